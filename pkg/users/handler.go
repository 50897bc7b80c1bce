package users

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketchat/pkg/response"
)

type UserHandler struct {
	repo UserRepository
}

func NewUserHandler(repo UserRepository) *UserHandler {
	return &UserHandler{repo: repo}
}

func (h *UserHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/users", h.createUser)
	router.GET("/users/:uuid", h.getUser)
}

type createUserRequest struct {
	Name      string `json:"name" binding:"required"`
	AvatarURL string `json:"avatar_url"`
}

// @Summary      Create a user profile
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body createUserRequest true "User profile"
// @Success      201  {object}  response.APIResponse{data=User}
// @Failure      400  {object}  response.APIResponse
// @Router       /users [post]
func (h *UserHandler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	user, err := h.repo.CreateUser(c.Request.Context(), User{
		UUID:      uuid.New().String(),
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		response.SendError(c, http.StatusInternalServerError, "failed to create user")
		return
	}

	response.SendAPIResponse(c, http.StatusCreated, true, "user created", user)
}

// @Summary      Get a user profile
// @Tags         users
// @Produce      json
// @Param        uuid path string true "User UUID"
// @Success      200  {object}  response.APIResponse{data=User}
// @Failure      404  {object}  response.APIResponse
// @Router       /users/{uuid} [get]
func (h *UserHandler) getUser(c *gin.Context) {
	uid := c.Param("uuid")
	if _, err := uuid.Parse(uid); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid uuid")
		return
	}

	user, err := h.repo.GetUserByUUID(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.SendError(c, http.StatusNotFound, "user not found")
			return
		}
		response.SendError(c, http.StatusInternalServerError, "failed to fetch user")
		return
	}

	response.SendAPIResponse(c, http.StatusOK, true, "user", user)
}
