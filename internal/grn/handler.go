package grn

import (
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

// Handler wires HTTP endpoints for the goods receipt workflow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the GRN handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers GRN routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/receipt", h.handleReceipt)
	r.Post("/{id}/approve", h.handleApprove)
}

type createRequest struct {
	Number     string              `json:"number"`
	ProjectID  int64               `json:"project_id" validate:"required"`
	LocationID int64               `json:"location_id" validate:"required"`
	POID       int64               `json:"po_id" validate:"required"`
	Remarks    string              `json:"remarks"`
	Lines      []createLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type createLineRequest struct {
	POLineID    int64  `json:"po_line_id" validate:"required"`
	ReceivedQty string `json:"received_qty"`
	AcceptedQty string `json:"accepted_qty"`
	RejectedQty string `json:"rejected_qty"`
}

type receiptRequest struct {
	Lines []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type receiptLineRequest struct {
	POLineID    int64  `json:"po_line_id" validate:"required"`
	ReceivedQty string `json:"received_qty" validate:"required"`
	AcceptedQty string `json:"accepted_qty" validate:"required"`
	RejectedQty string `json:"rejected_qty" validate:"required"`
}

type grnView struct {
	ID         int64      `json:"id"`
	Number     string     `json:"number"`
	ProjectID  int64      `json:"project_id"`
	LocationID int64      `json:"location_id"`
	POID       int64      `json:"po_id"`
	Status     string     `json:"status"`
	Remarks    string     `json:"remarks,omitempty"`
	ApprovedBy int64      `json:"approved_by,omitempty"`
	ApprovedAt string     `json:"approved_at,omitempty"`
	Lines      []lineView `json:"lines,omitempty"`
}

type lineView struct {
	ID          int64  `json:"id"`
	POLineID    int64  `json:"po_line_id"`
	MaterialID  int64  `json:"material_id"`
	OrderedQty  string `json:"ordered_qty"`
	ReceivedQty string `json:"received_qty"`
	AcceptedQty string `json:"accepted_qty"`
	RejectedQty string `json:"rejected_qty"`
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
		POID:       req.POID,
		Remarks:    req.Remarks,
	}
	for _, line := range req.Lines {
		received, accepted, rejected, err := parseReceiptQuantities(line.ReceivedQty, line.AcceptedQty, line.RejectedQty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		input.Lines = append(input.Lines, CreateLineInput{
			POLineID:    line.POLineID,
			ReceivedQty: received,
			AcceptedQty: accepted,
			RejectedQty: rejected,
		})
	}
	grn, err := h.service.Create(r.Context(), input, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("create grn", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(grn, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	grn, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(grn, lines))
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inputs := make([]ReceiptLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		received, accepted, rejected, err := parseReceiptQuantities(line.ReceivedQty, line.AcceptedQty, line.RejectedQty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		inputs = append(inputs, ReceiptLineInput{
			POLineID:    line.POLineID,
			ReceivedQty: received,
			AcceptedQty: accepted,
			RejectedQty: rejected,
		})
	}
	if err := h.service.RecordReceipt(r.Context(), id, inputs, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error("record receipt", slog.Int64("grn_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	grn, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(grn, lines))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	grn, err := h.service.Approve(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("approve grn", slog.Int64("grn_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	_, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("reload grn", slog.Int64("grn_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(grn, lines))
}

func parseReceiptQuantities(received, accepted, rejected string) (decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	parse := func(raw string) (decimal.Decimal, error) {
		if raw == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(raw)
	}
	rec, err := parse(received)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	acc, err := parse(accepted)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	rej, err := parse(rejected)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	return rec, acc, rej, nil
}

func toView(grn GoodsReceipt, lines []Line) grnView {
	view := grnView{
		ID:         grn.ID,
		Number:     grn.Number,
		ProjectID:  grn.ProjectID,
		LocationID: grn.LocationID,
		POID:       grn.POID,
		Status:     string(grn.Status),
		Remarks:    grn.Remarks,
		ApprovedBy: grn.ApprovedBy,
	}
	if !grn.ApprovedAt.IsZero() {
		view.ApprovedAt = grn.ApprovedAt.UTC().Format(time.RFC3339)
	}
	for _, line := range lines {
		view.Lines = append(view.Lines, lineView{
			ID:          line.ID,
			POLineID:    line.POLineID,
			MaterialID:  line.MaterialID,
			OrderedQty:  line.OrderedQty.String(),
			ReceivedQty: line.ReceivedQty.String(),
			AcceptedQty: line.AcceptedQty.String(),
			RejectedQty: line.RejectedQty.String(),
		})
	}
	return view
}

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
