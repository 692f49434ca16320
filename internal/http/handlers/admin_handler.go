package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ahmadabdelnby/freelance-backend/internal/http/handlers/common"
	"github.com/ahmadabdelnby/freelance-backend/internal/service"
)

// AdminHandler обслуживает административные операции над контрактами.
type AdminHandler struct {
	contracts *service.ContractService
}

// NewAdminHandler создаёт административный хэндлер.
func NewAdminHandler(contracts *service.ContractService) *AdminHandler {
	return &AdminHandler{contracts: contracts}
}

type cancelContractRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CancelContract обрабатывает POST /api/admin/contracts/:id/cancel.
// Возвращает клиенту полную сумму escrow.
func (h *AdminHandler) CancelContract(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req cancelContractRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.AdminCancelContract(c.Request.Context(), adminID, contractID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, contract)
}

// CompleteContract обрабатывает POST /api/admin/contracts/:id/complete.
// Завершает контракт с выплатой фрилансеру в обход клиента (спор).
func (h *AdminHandler) CompleteContract(c *gin.Context) {
	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.AdminCompleteContract(c.Request.Context(), contractID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, contract)
}

type updateAmountRequest struct {
	NewAmount float64 `json:"new_amount" binding:"required"`
	Reason    string  `json:"reason" binding:"required"`
}

// UpdateContractAmount обрабатывает PUT /api/admin/contracts/:id/amount.
func (h *AdminHandler) UpdateContractAmount(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req updateAmountRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.AdminUpdateContractAmount(c.Request.Context(), adminID, contractID, req.NewAmount, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, contract)
}
