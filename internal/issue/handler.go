package issue

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sitestock-erp/sitestock/internal/platform/httpx"
	"github.com/sitestock-erp/sitestock/internal/shared"
)

// Handler wires HTTP endpoints for the material issue workflow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the issue handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers issue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/cancel", h.handleCancel)
}

type createRequest struct {
	Number     string              `json:"number"`
	ProjectID  int64               `json:"project_id" validate:"required"`
	LocationID int64               `json:"location_id" validate:"required"`
	IssuedTo   string              `json:"issued_to"`
	Purpose    string              `json:"purpose"`
	Lines      []createLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type createLineRequest struct {
	MaterialID int64  `json:"material_id" validate:"required"`
	IssuedQty  string `json:"issued_qty" validate:"required"`
	Note       string `json:"note"`
}

type issueView struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	ProjectID   int64      `json:"project_id"`
	LocationID  int64      `json:"location_id"`
	IssuedTo    string     `json:"issued_to,omitempty"`
	Purpose     string     `json:"purpose,omitempty"`
	Status      string     `json:"status"`
	ApprovedBy  int64      `json:"approved_by,omitempty"`
	ApprovedAt  string     `json:"approved_at,omitempty"`
	CancelledBy int64      `json:"cancelled_by,omitempty"`
	CancelledAt string     `json:"cancelled_at,omitempty"`
	Lines       []lineView `json:"lines,omitempty"`
}

type lineView struct {
	ID         int64  `json:"id"`
	MaterialID int64  `json:"material_id"`
	IssuedQty  string `json:"issued_qty"`
	Note       string `json:"note,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		Number:     req.Number,
		ProjectID:  req.ProjectID,
		LocationID: req.LocationID,
		IssuedTo:   req.IssuedTo,
		Purpose:    req.Purpose,
	}
	for _, line := range req.Lines {
		quantity, err := decimal.NewFromString(line.IssuedQty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid issued_qty")
			return
		}
		input.Lines = append(input.Lines, CreateLineInput{MaterialID: line.MaterialID, IssuedQty: quantity, Note: line.Note})
	}
	issue, err := h.service.Create(r.Context(), input, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("create issue", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(issue, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	issue, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(issue, lines))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve", h.service.Approve)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", h.service.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context, int64, shared.Actor) (MaterialIssue, error)) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	issue, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error(name+" issue", slog.Int64("issue_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	_, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("reload issue", slog.Int64("issue_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(issue, lines))
}

func toView(issue MaterialIssue, lines []Line) issueView {
	view := issueView{
		ID:          issue.ID,
		Number:      issue.Number,
		ProjectID:   issue.ProjectID,
		LocationID:  issue.LocationID,
		IssuedTo:    issue.IssuedTo,
		Purpose:     issue.Purpose,
		Status:      string(issue.Status),
		ApprovedBy:  issue.ApprovedBy,
		CancelledBy: issue.CancelledBy,
	}
	if !issue.ApprovedAt.IsZero() {
		view.ApprovedAt = issue.ApprovedAt.UTC().Format(time.RFC3339)
	}
	if !issue.CancelledAt.IsZero() {
		view.CancelledAt = issue.CancelledAt.UTC().Format(time.RFC3339)
	}
	for _, line := range lines {
		view.Lines = append(view.Lines, lineView{
			ID:         line.ID,
			MaterialID: line.MaterialID,
			IssuedQty:  line.IssuedQty.String(),
			Note:       line.Note,
		})
	}
	return view
}

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
