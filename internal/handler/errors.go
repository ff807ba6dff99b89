package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/bakery_api/internal/utils"
)

// handleError maps service errors onto the response envelope.
func handleError(c *gin.Context, err error) {
	var stockErr *utils.StockError
	switch {
	case errors.As(err, &stockErr):
		utils.Error(c, http.StatusUnprocessableEntity, "INSUFFICIENT_STOCK", stockErr.Error())
	case errors.Is(err, utils.ErrValidation), errors.Is(err, utils.ErrInvalidInput):
		utils.Error(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, utils.ErrInsufficientStock):
		utils.Error(c, http.StatusUnprocessableEntity, "INSUFFICIENT_STOCK", "Insufficient stock")
	case errors.Is(err, utils.ErrProductNotFound):
		utils.Error(c, http.StatusNotFound, "PRODUCT_NOT_FOUND", err.Error())
	case errors.Is(err, utils.ErrUserNotFound):
		utils.Error(c, http.StatusNotFound, "USER_NOT_FOUND", err.Error())
	case errors.Is(err, utils.ErrSaleNotFound):
		utils.Error(c, http.StatusNotFound, "SALE_NOT_FOUND", "Sale not found")
	case errors.Is(err, utils.ErrCategoryNotFound):
		utils.Error(c, http.StatusNotFound, "CATEGORY_NOT_FOUND", err.Error())
	case errors.Is(err, utils.ErrTransactionTimeout):
		utils.Error(c, http.StatusServiceUnavailable, "TRANSACTION_TIMEOUT", "Checkout timed out waiting for stock, please retry")
	case errors.Is(err, utils.ErrDuplicate):
		utils.Error(c, http.StatusConflict, "DUPLICATE", err.Error())
	case errors.Is(err, utils.ErrInUse):
		utils.Error(c, http.StatusConflict, "IN_USE", err.Error())
	case errors.Is(err, utils.ErrInvalidCredentials):
		utils.Error(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Unhandled error")
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func invalidRequest(c *gin.Context, err error) {
	utils.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
}
