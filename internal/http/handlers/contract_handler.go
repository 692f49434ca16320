package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ahmadabdelnby/freelance-backend/internal/http/handlers/common"
	"github.com/ahmadabdelnby/freelance-backend/internal/service"
	"github.com/ahmadabdelnby/freelance-backend/internal/storage"
)

// ContractHandler обслуживает жизненный цикл контракта.
type ContractHandler struct {
	contracts *service.ContractService
	files     *storage.FileStorage
}

// NewContractHandler создаёт хэндлер контрактов.
func NewContractHandler(contracts *service.ContractService, files *storage.FileStorage) *ContractHandler {
	return &ContractHandler{contracts: contracts, files: files}
}

type createContractRequest struct {
	JobID              uuid.UUID `json:"job_id" binding:"required"`
	FreelancerID       uuid.UUID `json:"freelancer_id" binding:"required"`
	ProposalID         uuid.UUID `json:"proposal_id" binding:"required"`
	AgreedAmount       float64   `json:"agreed_amount" binding:"required"`
	BudgetType         string    `json:"budget_type" binding:"required"`
	AgreedDeliveryTime *int      `json:"agreed_delivery_time"`
}

// Create обрабатывает POST /api/contracts.
func (h *ContractHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req createContractRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.CreateContract(c.Request.Context(), userID, service.CreateContractInput{
		JobID:              req.JobID,
		FreelancerID:       req.FreelancerID,
		ProposalID:         req.ProposalID,
		AgreedAmount:       req.AgreedAmount,
		BudgetType:         req.BudgetType,
		AgreedDeliveryTime: req.AgreedDeliveryTime,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusCreated, contract)
}

// Get обрабатывает GET /api/contracts/:id.
func (h *ContractHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}
	role, _ := common.CurrentUserRole(c)

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.GetContract(c.Request.Context(), userID, role, contractID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, contract)
}

// List обрабатывает GET /api/contracts.
func (h *ContractHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	limit, offset := common.GetPagination(c)
	contracts, err := h.contracts.ListContracts(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, gin.H{"contracts": contracts})
}

type submitWorkRequest struct {
	Description string   `json:"description" binding:"required"`
	Files       []string `json:"files"`
}

// SubmitWork обрабатывает POST /api/contracts/:id/deliverables.
func (h *ContractHandler) SubmitWork(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req submitWorkRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	deliverable, err := h.contracts.SubmitWork(c.Request.Context(), userID, contractID, req.Description, req.Files)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusCreated, deliverable)
}

// UploadDeliverableFile обрабатывает POST /api/contracts/files (multipart).
// Возвращает путь, который затем передаётся в files при сдаче работы.
func (h *ContractHandler) UploadDeliverableFile(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "файл обязателен")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать файл")
		return
	}
	defer f.Close()

	path, size, err := h.files.Save(c.Request.Context(), userID, fileHeader.Filename, f)
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	common.RespondJSON(c, http.StatusCreated, gin.H{"path": path, "size": size})
}

type reviewWorkRequest struct {
	Action       string `json:"action" binding:"required"`
	RevisionNote string `json:"revision_note"`
}

// ReviewWork обрабатывает POST /api/contracts/:id/deliverables/:deliverableId/review.
func (h *ContractHandler) ReviewWork(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	deliverableID, err := common.ParseUUIDParam(c, "deliverableId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req reviewWorkRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.ReviewWork(c.Request.Context(), userID, contractID, deliverableID, req.Action, req.RevisionNote)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, contract)
}

// Complete обрабатывает POST /api/contracts/:id/complete.
func (h *ContractHandler) Complete(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.CompleteContract(c.Request.Context(), userID, contractID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, contract)
}

type updateHoursRequest struct {
	HoursWorked float64 `json:"hours_worked" binding:"required"`
}

// UpdateHours обрабатывает PUT /api/contracts/:id/hours.
func (h *ContractHandler) UpdateHours(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req updateHoursRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.contracts.UpdateHoursWorked(c.Request.Context(), userID, contractID, req.HoursWorked); err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondSuccess(c, http.StatusOK, "часы обновлены", nil)
}

type modificationRequestBody struct {
	ModificationType      string   `json:"modification_type" binding:"required"`
	RequestedBudget       *float64 `json:"requested_budget"`
	RequestedDeliveryTime *int     `json:"requested_delivery_time"`
	Reason                string   `json:"reason" binding:"required"`
}

// RequestModification обрабатывает POST /api/contracts/:id/modification-requests.
func (h *ContractHandler) RequestModification(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req modificationRequestBody
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	request, err := h.contracts.RequestModification(c.Request.Context(), userID, contractID, service.ModificationInput{
		ModificationType:      req.ModificationType,
		RequestedBudget:       req.RequestedBudget,
		RequestedDeliveryTime: req.RequestedDeliveryTime,
		Reason:                req.Reason,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusCreated, request)
}

type respondModificationRequest struct {
	Action       string `json:"action" binding:"required"`
	ResponseNote string `json:"response_note"`
}

// RespondModification обрабатывает POST /api/modification-requests/:id/respond.
func (h *ContractHandler) RespondModification(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	requestID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req respondModificationRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if req.Action != "approve" && req.Action != "reject" {
		common.RespondBadRequest(c, "action должен быть approve или reject")
		return
	}

	request, err := h.contracts.RespondToModification(c.Request.Context(), userID, requestID, req.Action == "approve", req.ResponseNote)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, request)
}

// ListModifications обрабатывает GET /api/contracts/:id/modification-requests.
func (h *ContractHandler) ListModifications(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	requests, err := h.contracts.ListModifications(c.Request.Context(), userID, contractID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, gin.H{"requests": requests})
}

// ListPendingModifications обрабатывает GET /api/modification-requests/pending.
func (h *ContractHandler) ListPendingModifications(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	requests, err := h.contracts.ListPendingModifications(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, gin.H{"requests": requests})
}
