package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GTDGit/bakery_api/internal/service"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// SaleHandler serves checkout, preview and sale history.
type SaleHandler struct {
	sales   *service.SaleService
	queries *service.SaleQueryService
}

// NewSaleHandler creates a new SaleHandler.
func NewSaleHandler(sales *service.SaleService, queries *service.SaleQueryService) *SaleHandler {
	return &SaleHandler{sales: sales, queries: queries}
}

// Preview handles POST /sales/preview
func (h *SaleHandler) Preview(c *gin.Context) {
	var req service.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	result, err := h.sales.Preview(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Sale preview", result)
}

// Checkout handles POST /sales
func (h *SaleHandler) Checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	detail, err := h.sales.Checkout(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	utils.Success(c, http.StatusCreated, "Sale created", detail)
}

// ListSales handles GET /sales?user_id=&limit=
func (h *SaleHandler) ListSales(c *gin.Context) {
	var filter service.SaleListFilter
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			handleError(c, utils.NewValidationError("user_id", "must be an integer"))
			return
		}
		filter.UserID = &id
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			handleError(c, utils.NewValidationError("limit", "must be an integer"))
			return
		}
		filter.Limit = &limit
	}

	sales, limit, err := h.queries.ListSales(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	utils.SuccessWithLimit(c, http.StatusOK, "Sales retrieved", sales, limit)
}

// GetSale handles GET /sales/:id
func (h *SaleHandler) GetSale(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	detail, err := h.queries.GetSale(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Sale retrieved", detail)
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		utils.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid id")
		return 0, false
	}
	return id, true
}
