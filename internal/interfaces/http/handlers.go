package http

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/procurio/approval-engine/internal/application/service"
	"github.com/procurio/approval-engine/internal/domain/entity"
	"github.com/procurio/approval-engine/pkg/utils"
)

// actorHeader carries the authenticated actor ID. Authentication itself is
// handled by the gateway in front of this service.
const actorHeader = "X-Actor-ID"

// Handlers contains all HTTP request handlers
type Handlers struct {
	approvalService service.ApprovalService
	matrixService   service.MatrixService
	auditService    service.AuditService
	exportService   service.ExportService
	logger          Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	approvalService service.ApprovalService,
	matrixService service.MatrixService,
	auditService service.AuditService,
	exportService service.ExportService,
	logger Logger,
) *Handlers {
	return &Handlers{
		approvalService: approvalService,
		matrixService:   matrixService,
		auditService:    auditService,
		exportService:   exportService,
		logger:          logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// SubmitWorkflowRequest is the body of POST /api/workflows
type SubmitWorkflowRequest struct {
	Category      string  `json:"category" binding:"required"`
	ReferenceID   int64   `json:"reference_id" binding:"required"`
	ReferenceCode string  `json:"reference_code"`
	Amount        float64 `json:"amount" binding:"required"`
	Currency      string  `json:"currency" binding:"required"`
	DepartmentID  *int64  `json:"department_id"`
}

// DecisionRequest is the body of POST /api/workflows/:id/decision
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Comments string `json:"comments"`
	Reason   string `json:"reason"`
}

// OverrideRequest is the body of POST /api/workflows/:id/override
type OverrideRequest struct {
	OverrideType  string `json:"override_type" binding:"required"`
	Justification string `json:"justification"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// ── Workflows ────────────────────────────────────────────────────────────────

// SubmitWorkflow handles POST /api/workflows
func (h *Handlers) SubmitWorkflow(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}

	var req SubmitWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	if err := utils.ValidateCurrencyCode(req.Currency); err != nil {
		h.badRequest(c, err.Error())
		return
	}
	if err := utils.ValidateAmount(req.Amount); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	wf, err := h.approvalService.SubmitForApproval(c.Request.Context(), entity.DocumentRef{
		Category:      entity.Category(req.Category),
		ReferenceID:   req.ReferenceID,
		ReferenceCode: utils.SanitizeString(req.ReferenceCode),
		Amount:        req.Amount,
		Currency:      req.Currency,
		DepartmentID:  req.DepartmentID,
		RequestedBy:   actor,
	})
	if err != nil {
		h.respondError(c, err, "failed to submit document for approval")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: wf})
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	wf, err := h.approvalService.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "failed to get workflow")
		return
	}
	if wf == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "workflow not found"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: wf})
}

// RecordDecision handles POST /api/workflows/:id/decision
func (h *Handlers) RecordDecision(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	switch service.Decision(req.Decision) {
	case service.DecisionApprove:
	case service.DecisionReject:
		if req.Reason == "" {
			h.badRequest(c, "rejection requires a reason")
			return
		}
	default:
		h.badRequest(c, "decision must be approve or reject")
		return
	}

	wf, err := h.approvalService.RecordDecision(c.Request.Context(), id, actor,
		service.Decision(req.Decision),
		service.DecisionPayload{Comments: req.Comments, Reason: req.Reason})
	if err != nil {
		h.respondError(c, err, "failed to record decision")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: wf})
}

// RequestOverride handles POST /api/workflows/:id/override
func (h *Handlers) RequestOverride(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	wf, err := h.approvalService.RequestOverride(c.Request.Context(), id,
		entity.OverrideType(req.OverrideType), req.Justification, actor)
	if err != nil {
		h.respondError(c, err, "failed to apply override")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: wf})
}

// GetWorkflowStatus handles GET /api/workflows/status/:category/:reference_id
func (h *Handlers) GetWorkflowStatus(c *gin.Context) {
	category := entity.Category(c.Param("category"))
	if !category.IsValid() {
		h.badRequest(c, "unknown category")
		return
	}
	refID, err := strconv.ParseInt(c.Param("reference_id"), 10, 64)
	if err != nil {
		h.badRequest(c, "invalid reference id")
		return
	}

	wf, err := h.approvalService.GetWorkflowStatus(c.Request.Context(), category, refID)
	if err != nil {
		h.respondError(c, err, "failed to get workflow status")
		return
	}
	if wf == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "no workflow for document"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: wf})
}

// ListPendingWorkflows handles GET /api/workflows/pending?role=<code>&limit=<n>
func (h *Handlers) ListPendingWorkflows(c *gin.Context) {
	roleCode := c.Query("role")
	if roleCode == "" {
		h.badRequest(c, "role query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	workflows, err := h.approvalService.ListPendingByRole(c.Request.Context(), roleCode, limit)
	if err != nil {
		h.respondError(c, err, "failed to list pending workflows")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: workflows})
}

// ── Matrix administration ────────────────────────────────────────────────────

// ListRoles handles GET /api/matrix/roles
func (h *Handlers) ListRoles(c *gin.Context) {
	roles, err := h.matrixService.ListRoles(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "failed to list roles")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: roles})
}

// CreateRole handles POST /api/matrix/roles
func (h *Handlers) CreateRole(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}

	var role entity.Role
	if err := c.ShouldBindJSON(&role); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	created, err := h.matrixService.CreateRole(c.Request.Context(), &role, actor)
	if err != nil {
		h.respondError(c, err, "failed to create role")
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// UpdateRole handles PUT /api/matrix/roles/:id
func (h *Handlers) UpdateRole(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var role entity.Role
	if err := c.ShouldBindJSON(&role); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	role.ID = id

	updated, err := h.matrixService.UpdateRole(c.Request.Context(), &role, actor)
	if err != nil {
		h.respondError(c, err, "failed to update role")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// DeactivateRole handles DELETE /api/matrix/roles/:id
func (h *Handlers) DeactivateRole(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := h.matrixService.DeactivateRole(c.Request.Context(), id, actor); err != nil {
		h.respondError(c, err, "failed to deactivate role")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ListRules handles GET /api/matrix/rules
func (h *Handlers) ListRules(c *gin.Context) {
	rules, err := h.matrixService.ListRules(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "failed to list rules")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rules})
}

// SaveRule handles POST /api/matrix/rules. A body with a non-zero id
// supersedes that rule row with a new version.
func (h *Handlers) SaveRule(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}

	var rule entity.ApprovalRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	saved, err := h.matrixService.SaveRule(c.Request.Context(), &rule, actor)
	if err != nil {
		h.respondError(c, err, "failed to save rule")
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: saved})
}

// DeactivateRule handles DELETE /api/matrix/rules/:id
func (h *Handlers) DeactivateRule(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := h.matrixService.DeactivateRule(c.Request.Context(), id, actor); err != nil {
		h.respondError(c, err, "failed to deactivate rule")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ListOverrides handles GET /api/matrix/overrides
func (h *Handlers) ListOverrides(c *gin.Context) {
	overrides, err := h.matrixService.ListOverrides(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "failed to list overrides")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: overrides})
}

// SaveOverride handles POST /api/matrix/overrides
func (h *Handlers) SaveOverride(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}

	var override entity.ApprovalOverride
	if err := c.ShouldBindJSON(&override); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	saved, err := h.matrixService.SaveOverride(c.Request.Context(), &override, actor)
	if err != nil {
		h.respondError(c, err, "failed to save override")
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: saved})
}

// DeactivateOverride handles DELETE /api/matrix/overrides/:id
func (h *Handlers) DeactivateOverride(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := h.matrixService.DeactivateOverride(c.Request.Context(), id, actor); err != nil {
		h.respondError(c, err, "failed to deactivate override")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ListVersions handles GET /api/matrix/versions?limit=<n>
func (h *Handlers) ListVersions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	versions, err := h.matrixService.ListVersions(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err, "failed to list matrix versions")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: versions})
}

// ── Export / import ──────────────────────────────────────────────────────────

// ExportMatrix handles GET /api/matrix/export
func (h *Handlers) ExportMatrix(c *gin.Context) {
	data, err := h.exportService.ExportJSON(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "failed to export matrix")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="approval-matrix.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

// ImportMatrix handles POST /api/matrix/import
func (h *Handlers) ImportMatrix(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.badRequest(c, "failed to read request body")
		return
	}

	if err := h.exportService.ImportJSON(c.Request.Context(), data, actor); err != nil {
		h.respondError(c, err, "failed to import matrix")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ExportMatrixWorkbook handles GET /api/matrix/export/xlsx
func (h *Handlers) ExportMatrixWorkbook(c *gin.Context) {
	f, err := h.exportService.BuildWorkbook(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "failed to build matrix workbook")
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", `attachment; filename="approval-matrix.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		h.logger.Error("Failed to write matrix workbook", "error", err)
	}
}

// ── Audit trail ──────────────────────────────────────────────────────────────

// ListAuditLogs handles GET /api/audit?entity_type=<t>&limit=<n>
func (h *Handlers) ListAuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	entries, err := h.auditService.ListAuditLogs(c.Request.Context(), c.Query("entity_type"), limit)
	if err != nil {
		h.respondError(c, err, "failed to list audit entries")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// EntityHistory handles GET /api/audit/:entity_type/:entity_id
func (h *Handlers) EntityHistory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("entity_id"), 10, 64)
	if err != nil {
		h.badRequest(c, "invalid entity id")
		return
	}

	entries, err := h.auditService.History(c.Request.Context(), c.Param("entity_type"), id)
	if err != nil {
		h.respondError(c, err, "failed to get entity history")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (h *Handlers) requireActor(c *gin.Context) (string, bool) {
	actor := c.GetHeader(actorHeader)
	if actor == "" {
		c.JSON(http.StatusUnauthorized, Response{
			Success: false,
			Error:   "missing " + actorHeader + " header",
		})
		return "", false
	}
	return actor, true
}

func (h *Handlers) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// respondError maps domain error codes onto HTTP statuses. Unknown errors
// stay opaque 500s; the detail goes to the log, not the client.
func (h *Handlers) respondError(c *gin.Context, err error, logMsg string) {
	code := entity.CodeOf(err)

	var status int
	switch code {
	case entity.CodeNotAuthorized:
		status = http.StatusForbidden
	case entity.CodeAlreadyFinalized, entity.CodeConcurrentModification, entity.CodeEntityInUse:
		status = http.StatusConflict
	case entity.CodeNoApplicableRule, entity.CodeAmbiguousRule, entity.CodeInvalidOverride:
		status = http.StatusUnprocessableEntity
	case entity.CodeOverlappingBands, entity.CodeDuplicateSequenceOrder, entity.CodeInvalidConfiguration:
		status = http.StatusBadRequest
	default:
		h.logger.Error(logMsg, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: logMsg})
		return
	}

	c.JSON(status, Response{
		Success: false,
		Error:   err.Error(),
		Code:    string(code),
	})
}
