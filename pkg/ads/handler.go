package ads

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketchat/pkg/protocol"
	"marketchat/pkg/response"
)

type AdHandler struct {
	repo AdRepository
}

func NewAdHandler(repo AdRepository) *AdHandler {
	return &AdHandler{repo: repo}
}

func (h *AdHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/ads", h.createAd)
	router.GET("/ads", h.listAds)
	router.GET("/ads/:uuid", h.getAdDetail)
}

type createAdRequest struct {
	SellerID    string `json:"seller_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	ImageURL    string `json:"image_url"`
}

// @Summary      Publish an ad
// @Tags         ads
// @Accept       json
// @Produce      json
// @Param        request body createAdRequest true "Ad"
// @Success      201  {object}  response.APIResponse{data=Ad}
// @Failure      400  {object}  response.APIResponse
// @Router       /ads [post]
func (h *AdHandler) createAd(c *gin.Context) {
	var req createAdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	if _, err := uuid.Parse(req.SellerID); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid seller_id, must be UUID")
		return
	}

	ad, err := h.repo.CreateAd(c.Request.Context(), Ad{
		UUID:        uuid.New().String(),
		SellerUUID:  req.SellerID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		ImageURL:    req.ImageURL,
		Status:      "active",
	})
	if err != nil {
		response.SendError(c, http.StatusInternalServerError, "failed to create ad")
		return
	}

	response.SendAPIResponse(c, http.StatusCreated, true, "ad created", ad)
}

// @Summary      List active ads
// @Tags         ads
// @Produce      json
// @Param        page  query int false "Page"
// @Param        limit query int false "Page size (max 100)"
// @Success      200  {object}  response.APIResponse{data=[]Ad}
// @Router       /ads [get]
func (h *AdHandler) listAds(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	adsList, err := h.repo.ListAds(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		response.SendError(c, http.StatusInternalServerError, "failed to list ads")
		return
	}

	response.SendAPIResponse(c, http.StatusOK, true, "ads", adsList)
}

// @Summary      Get ad detail for chat bootstrapping
// @Description  Returns the seller identity and product context for an ad
// @Tags         ads
// @Produce      json
// @Param        uuid path string true "Ad UUID"
// @Success      200  {object}  response.APIResponse{data=protocol.AdDetail}
// @Failure      404  {object}  response.APIResponse
// @Router       /ads/{uuid} [get]
func (h *AdHandler) getAdDetail(c *gin.Context) {
	adUUID := c.Param("uuid")
	if _, err := uuid.Parse(adUUID); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid ad id, must be UUID")
		return
	}

	ad, err := h.repo.GetAdByUUID(c.Request.Context(), adUUID)
	if err != nil {
		if errors.Is(err, ErrAdNotFound) {
			response.SendError(c, http.StatusNotFound, "ad not found")
			return
		}
		response.SendError(c, http.StatusInternalServerError, "failed to fetch ad")
		return
	}

	detail := protocol.AdDetail{
		Seller: protocol.User{ID: ad.SellerUUID, Name: ad.SellerName, AvatarURL: ad.SellerAvatar},
		Product: protocol.ProductRef{
			AdID:     ad.UUID,
			Title:    ad.Title,
			Price:    ad.Price,
			ImageURL: ad.ImageURL,
		},
	}

	response.SendAPIResponse(c, http.StatusOK, true, "ad detail", detail)
}
