package rooms

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketchat/pkg/response"
)

type RoomHandler struct {
	service RoomService
}

func NewRoomHandler(service RoomService) *RoomHandler {
	return &RoomHandler{service: service}
}

func (h *RoomHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/chat/rooms", h.getOrCreateRoom)
	router.GET("/chat/rooms", h.listRooms)
	router.GET("/chat/rooms/:uuid/messages", h.getRoomMessages)
	router.POST("/chat/rooms/:uuid/read", h.markRead)
}

type getOrCreateRoomRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	OtherUserID string `json:"other_user_id" binding:"required"`
}

// @Summary      Get or create a two-party chat room
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request body getOrCreateRoomRequest true "Participant pair"
// @Success      200  {object}  response.APIResponse{data=protocol.ChatRoom}
// @Failure      400  {object}  response.APIResponse
// @Router       /chat/rooms [post]
func (h *RoomHandler) getOrCreateRoom(c *gin.Context) {
	var req getOrCreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid user_id, must be UUID")
		return
	}
	if _, err := uuid.Parse(req.OtherUserID); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid other_user_id, must be UUID")
		return
	}

	room, err := h.service.GetOrCreate(c.Request.Context(), req.UserID, req.OtherUserID)
	if err != nil {
		if errors.Is(err, ErrSelfChat) {
			response.SendError(c, http.StatusBadRequest, "cannot open a chat with yourself")
			return
		}
		if errors.Is(err, ErrRoomNotFound) {
			response.SendError(c, http.StatusNotFound, "one of the users does not exist")
			return
		}
		response.SendError(c, http.StatusInternalServerError, "failed to open chat room")
		return
	}

	response.SendAPIResponse(c, http.StatusOK, true, "chat room", room)
}

// @Summary      List chat rooms for the sidebar
// @Tags         chat
// @Produce      json
// @Param        user_id query string true "Requesting user UUID"
// @Success      200  {object}  response.APIResponse{data=[]protocol.RoomSummary}
// @Router       /chat/rooms [get]
func (h *RoomHandler) listRooms(c *gin.Context) {
	userID := c.Query("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid user_id, must be UUID")
		return
	}

	summaries, err := h.service.ListRooms(c.Request.Context(), userID)
	if err != nil {
		response.SendError(c, http.StatusInternalServerError, "failed to list rooms")
		return
	}

	response.SendAPIResponse(c, http.StatusOK, true, "rooms", summaries)
}

// @Summary      Fetch room history
// @Description  Messages ordered oldest first
// @Tags         chat
// @Produce      json
// @Param        uuid path string true "Room UUID"
// @Success      200  {object}  response.APIResponse{data=[]protocol.Message}
// @Router       /chat/rooms/{uuid}/messages [get]
func (h *RoomHandler) getRoomMessages(c *gin.Context) {
	roomID := c.Param("uuid")
	if _, err := uuid.Parse(roomID); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid room id, must be UUID")
		return
	}

	messages, err := h.service.History(c.Request.Context(), roomID)
	if err != nil {
		response.SendError(c, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	response.SendAPIResponse(c, http.StatusOK, true, "messages", messages)
}

type markReadRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// @Summary      Mark a room as read
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        uuid path string true "Room UUID"
// @Param        request body markReadRequest true "Reader"
// @Success      200  {object}  response.APIResponse
// @Router       /chat/rooms/{uuid}/read [post]
func (h *RoomHandler) markRead(c *gin.Context) {
	roomID := c.Param("uuid")
	if _, err := uuid.Parse(roomID); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid room id, must be UUID")
		return
	}

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	if err := h.service.MarkRead(c.Request.Context(), roomID, req.UserID); err != nil {
		response.SendError(c, http.StatusInternalServerError, "failed to mark room read")
		return
	}

	response.SendAPIResponse(c, http.StatusOK, true, "room marked read", nil)
}
