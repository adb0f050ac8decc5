package transfer

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

// Handler wires HTTP endpoints for the stock transfer workflow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/execute", h.handleExecute)
}

type createRequest struct {
	Number         string              `json:"number"`
	ProjectID      int64               `json:"project_id" validate:"required"`
	FromLocationID int64               `json:"from_location_id" validate:"required"`
	ToLocationID   int64               `json:"to_location_id" validate:"required"`
	VehicleNo      string              `json:"vehicle_no"`
	DriverName     string              `json:"driver_name"`
	Remarks        string              `json:"remarks"`
	Lines          []createLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type createLineRequest struct {
	MaterialID int64  `json:"material_id" validate:"required"`
	Qty        string `json:"qty" validate:"required"`
	Note       string `json:"note"`
}

type transferView struct {
	ID             int64      `json:"id"`
	Number         string     `json:"number"`
	ProjectID      int64      `json:"project_id"`
	FromLocationID int64      `json:"from_location_id"`
	ToLocationID   int64      `json:"to_location_id"`
	VehicleNo      string     `json:"vehicle_no,omitempty"`
	DriverName     string     `json:"driver_name,omitempty"`
	Remarks        string     `json:"remarks,omitempty"`
	Status         string     `json:"status"`
	ApprovedBy     int64      `json:"approved_by,omitempty"`
	ApprovedAt     string     `json:"approved_at,omitempty"`
	ExecutedBy     int64      `json:"executed_by,omitempty"`
	ExecutedAt     string     `json:"executed_at,omitempty"`
	Lines          []lineView `json:"lines,omitempty"`
}

type lineView struct {
	ID         int64  `json:"id"`
	MaterialID int64  `json:"material_id"`
	Qty        string `json:"qty"`
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
		Number:         req.Number,
		ProjectID:      req.ProjectID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		VehicleNo:      req.VehicleNo,
		DriverName:     req.DriverName,
		Remarks:        req.Remarks,
	}
	for _, line := range req.Lines {
		quantity, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid qty")
			return
		}
		input.Lines = append(input.Lines, CreateLineInput{MaterialID: line.MaterialID, Qty: quantity, Note: line.Note})
	}
	transfer, err := h.service.Create(r.Context(), input, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("create transfer", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(transfer, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	transfer, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(transfer, lines))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve", h.service.Approve)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "execute", h.service.Execute)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context, int64, shared.Actor) (StockTransfer, error)) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	transfer, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error(name+" transfer", slog.Int64("transfer_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	_, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("reload transfer", slog.Int64("transfer_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(transfer, lines))
}

func toView(transfer StockTransfer, lines []Line) transferView {
	view := transferView{
		ID:             transfer.ID,
		Number:         transfer.Number,
		ProjectID:      transfer.ProjectID,
		FromLocationID: transfer.FromLocationID,
		ToLocationID:   transfer.ToLocationID,
		VehicleNo:      transfer.VehicleNo,
		DriverName:     transfer.DriverName,
		Remarks:        transfer.Remarks,
		Status:         string(transfer.Status),
		ApprovedBy:     transfer.ApprovedBy,
		ExecutedBy:     transfer.ExecutedBy,
	}
	if !transfer.ApprovedAt.IsZero() {
		view.ApprovedAt = transfer.ApprovedAt.UTC().Format(time.RFC3339)
	}
	if !transfer.ExecutedAt.IsZero() {
		view.ExecutedAt = transfer.ExecutedAt.UTC().Format(time.RFC3339)
	}
	for _, line := range lines {
		view.Lines = append(view.Lines, lineView{
			ID:         line.ID,
			MaterialID: line.MaterialID,
			Qty:        line.Qty.String(),
			Note:       line.Note,
		})
	}
	return view
}

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
