package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/sitestock-erp/sitestock/internal/platform/httpx"
)

const (
	reportRateLimit  = 30
	reportRateWindow = time.Minute
)

// Handler exposes the read-only stock register and ledger report endpoints.
// No business logic lives here; both queries go straight to the store.
type Handler struct {
	logger *slog.Logger
	store  *Store
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, store *Store) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, store: store}
}

// MountRoutes registers the stock report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(reportRateLimit, reportRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "")
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/balances", h.handleBalances)
		gr.Get("/ledger", h.handleLedger)
	})
}

type balanceView struct {
	LocationID int64  `json:"location_id"`
	MaterialID int64  `json:"material_id"`
	Quantity   string `json:"quantity"`
	UpdatedAt  string `json:"updated_at"`
}

type entryView struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	RefType   string `json:"ref_type"`
	RefID     string `json:"ref_id"`
	QtyIn     string `json:"qty_in"`
	QtyOut    string `json:"qty_out"`
	Balance   string `json:"balance"`
	Remarks   string `json:"remarks,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	projectID := queryInt(r, "project_id")
	if projectID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "project_id is required")
		return
	}
	filter := BalanceFilter{ProjectID: projectID, LocationID: queryInt(r, "location_id")}
	balances, err := h.store.ListBalances(r.Context(), filter)
	if err != nil {
		h.logger.Error("list balances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]balanceView, 0, len(balances))
	for _, b := range balances {
		views = append(views, balanceView{
			LocationID: b.LocationID,
			MaterialID: b.MaterialID,
			Quantity:   b.Quantity.String(),
			UpdatedAt:  b.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"project_id": projectID, "balances": views})
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := int(queryInt(r, "limit"))
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	filter := QueryFilter{
		Key: Key{
			ProjectID:  queryInt(r, "project_id"),
			LocationID: queryInt(r, "location_id"),
			MaterialID: queryInt(r, "material_id"),
		},
		Limit: limit,
	}
	entries, hasMore, err := h.store.QueryByKey(r.Context(), filter)
	if err != nil {
		h.logger.Error("query ledger", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			ID:        e.ID.String(),
			Seq:       e.Seq,
			RefType:   string(e.RefType),
			RefID:     e.RefID.String(),
			QtyIn:     e.QtyIn.String(),
			QtyOut:    e.QtyOut.String(),
			Balance:   e.Balance.String(),
			Remarks:   e.Remarks,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": views, "limit": limit, "has_more": hasMore})
}

func queryInt(r *http.Request, name string) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
