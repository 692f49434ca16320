package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ahmadabdelnby/freelance-backend/internal/http/handlers/common"
	"github.com/ahmadabdelnby/freelance-backend/internal/service"
)

// PaymentHandler обслуживает баланс, escrow и операции с внешним провайдером.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler создаёт платёжный хэндлер.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// GetBalance обрабатывает GET /api/funds/balance.
func (h *PaymentHandler) GetBalance(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	balance, err := h.payments.GetBalance(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, gin.H{"balance": balance})
}

// ListTransactions обрабатывает GET /api/funds/transactions.
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	limit, offset := common.GetPagination(c)
	payments, err := h.payments.ListTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, gin.H{"transactions": payments})
}

// GetEscrow обрабатывает GET /api/contracts/:id/escrow.
func (h *PaymentHandler) GetEscrow(c *gin.Context) {
	if _, err := common.CurrentUserID(c); err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.GetEscrow(c.Request.Context(), contractID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, payment)
}

type topUpRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

// CreateTopUpOrder обрабатывает POST /api/funds/paypal/orders.
func (h *PaymentHandler) CreateTopUpOrder(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req topUpRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	orderID, approveURL, err := h.payments.CreateTopUpOrder(c.Request.Context(), userID, req.Amount)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusCreated, gin.H{
		"order_id":    orderID,
		"approve_url": approveURL,
	})
}

type captureRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// CaptureTopUp обрабатывает POST /api/funds/paypal/capture.
func (h *PaymentHandler) CaptureTopUp(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req captureRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.CaptureTopUp(c.Request.Context(), userID, req.OrderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, payment)
}

type withdrawRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

// Withdraw обрабатывает POST /api/funds/withdrawals.
func (h *PaymentHandler) Withdraw(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req withdrawRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.Withdraw(c.Request.Context(), userID, req.Amount)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusCreated, payment)
}
