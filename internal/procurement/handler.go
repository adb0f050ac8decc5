package procurement

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

// Handler wires HTTP endpoints for purchase orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/pos", h.handleCreate)
	r.Get("/pos/{id}", h.handleGet)
	r.Post("/pos/{id}/submit", h.handleSubmit)
	r.Post("/pos/{id}/approve", h.handleApprove)
}

type createPORequest struct {
	Number     string          `json:"number"`
	ProjectID  int64           `json:"project_id" validate:"required"`
	SupplierID int64           `json:"supplier_id"`
	Note       string          `json:"note"`
	Lines      []poLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type poLineRequest struct {
	MaterialID int64  `json:"material_id" validate:"required"`
	OrderedQty string `json:"ordered_qty" validate:"required"`
	Note       string `json:"note"`
}

type poView struct {
	ID         int64        `json:"id"`
	Number     string       `json:"number"`
	ProjectID  int64        `json:"project_id"`
	SupplierID int64        `json:"supplier_id"`
	Status     string       `json:"status"`
	Note       string       `json:"note,omitempty"`
	ApprovedBy int64        `json:"approved_by,omitempty"`
	ApprovedAt string       `json:"approved_at,omitempty"`
	Lines      []poLineView `json:"lines,omitempty"`
}

type poLineView struct {
	ID          int64  `json:"id"`
	MaterialID  int64  `json:"material_id"`
	OrderedQty  string `json:"ordered_qty"`
	ReceivedQty string `json:"received_qty"`
	Note        string `json:"note,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreatePOInput{Number: req.Number, ProjectID: req.ProjectID, SupplierID: req.SupplierID, Note: req.Note}
	for _, line := range req.Lines {
		qty, err := decimal.NewFromString(line.OrderedQty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "ordered_qty must be a decimal number")
			return
		}
		input.Lines = append(input.Lines, POLineInput{MaterialID: line.MaterialID, OrderedQty: qty, Note: line.Note})
	}
	po, err := h.service.Create(r.Context(), input, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("create po", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPOView(po, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	po, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPOView(po, lines))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "submit", h.service.Submit)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve", h.service.Approve)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context, int64, shared.Actor) error) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := fn(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error(name+" po", slog.Int64("po_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	po, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPOView(po, lines))
}

func toPOView(po PurchaseOrder, lines []POLine) poView {
	view := poView{
		ID:         po.ID,
		Number:     po.Number,
		ProjectID:  po.ProjectID,
		SupplierID: po.SupplierID,
		Status:     string(po.Status),
		Note:       po.Note,
		ApprovedBy: po.ApprovedBy,
	}
	if !po.ApprovedAt.IsZero() {
		view.ApprovedAt = po.ApprovedAt.UTC().Format(time.RFC3339)
	}
	for _, line := range lines {
		view.Lines = append(view.Lines, poLineView{
			ID:          line.ID,
			MaterialID:  line.MaterialID,
			OrderedQty:  line.OrderedQty.String(),
			ReceivedQty: line.ReceivedQty.String(),
			Note:        line.Note,
		})
	}
	return view
}

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
