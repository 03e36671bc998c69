package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/model"
	"storefront/internal/service/purchase"
	"storefront/pkg/utils"
)

// CreatePurchaseRequest is the body of POST /api/v1/purchases.
type CreatePurchaseRequest struct {
	UserID string               `json:"user_id" binding:"required"`
	Items  []model.PurchaseItem `json:"items" binding:"required,min=1,dive"`
	Total  decimal.Decimal      `json:"total"`
}

// PurchaseHandler purchase handler
type PurchaseHandler struct {
	purchaseService purchase.PurchaseService
}

// NewPurchaseHandler creates a purchase handler
func NewPurchaseHandler(purchaseService purchase.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{
		purchaseService: purchaseService,
	}
}

// CreatePurchase places a purchase
func (h *PurchaseHandler) CreatePurchase(c *gin.Context) {
	var req CreatePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, utils.NewValidationError("invalid request: %v", err))
		return
	}

	result, err := h.purchaseService.CreatePurchase(c.Request.Context(), req.UserID, req.Items, req.Total)
	if err != nil {
		utils.ErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// ListPurchases returns the purchase history of a user
func (h *PurchaseHandler) ListPurchases(c *gin.Context) {
	purchases, err := h.purchaseService.GetPurchaseHistory(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		utils.ErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"list":  purchases,
		"total": len(purchases),
	})
}
