package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/service/adjustment"
	"github.com/vladislavdragonenkov/ims/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/ims/internal/service/reservation"
)

const defaultActor = "api"

// Handler связывает HTTP API с сервисами движка остатков.
type Handler struct {
	Stock        *adjustment.Service
	Reservations *reservation.Manager
	Orders       *fulfillment.Orchestrator
	Idempotency  domain.IdempotencyRepository
	Logger       *log.Entry
}

// Register вешает все маршруты API на роутер.
func (h *Handler) Register(r *chi.Mux) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/stock", h.createStock)
		r.Get("/stock/{productID}", h.getStock)
		r.Patch("/stock/{productID}/status", h.setStockStatus)
		r.Post("/stock/{productID}/adjustments", h.adjustStock)
		r.Put("/stock/adjustments", h.bulkAdjustStock)

		r.Post("/reservations", h.reserve)
		r.Post("/reservations/fulfill", h.fulfill)
		r.Delete("/reservations", h.release)

		r.Post("/orders", h.createOrder)
		r.Get("/orders/{orderID}", h.getOrder)

		r.Get("/audit", h.queryAudit)
	})
}

func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return defaultActor
}

type stockResponse struct {
	ProductID     string    `json:"product_id"`
	SKU           string    `json:"sku,omitempty"`
	Name          string    `json:"name,omitempty"`
	PhysicalStock int64     `json:"physical_stock"`
	ReservedStock int64     `json:"reserved_stock"`
	Available     int64     `json:"available"`
	ReorderPoint  int64     `json:"reorder_point"`
	ReorderQty    int64     `json:"reorder_qty"`
	MaxStockLevel int64     `json:"max_stock_level,omitempty"`
	Status        string    `json:"status"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toStockResponse(rec domain.StockRecord) stockResponse {
	return stockResponse{
		ProductID:     rec.ProductID,
		SKU:           rec.SKU,
		Name:          rec.Name,
		PhysicalStock: rec.PhysicalStock,
		ReservedStock: rec.ReservedStock,
		Available:     rec.Available(),
		ReorderPoint:  rec.ReorderPoint,
		ReorderQty:    rec.ReorderQty,
		MaxStockLevel: rec.MaxStockLevel,
		Status:        string(rec.Status),
		Version:       rec.Version,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

type createStockRequest struct {
	ProductID     string `json:"product_id"`
	SKU           string `json:"sku"`
	Name          string `json:"name"`
	PhysicalStock int64  `json:"physical_stock"`
	ReorderPoint  int64  `json:"reorder_point"`
	ReorderQty    int64  `json:"reorder_qty"`
	MaxStockLevel int64  `json:"max_stock_level"`
}

func (h *Handler) createStock(w http.ResponseWriter, r *http.Request) {
	var req createStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_json", "request body is not valid json")
		return
	}

	created, err := h.Stock.CreateStock(domain.StockRecord{
		ProductID:     req.ProductID,
		SKU:           req.SKU,
		Name:          req.Name,
		PhysicalStock: req.PhysicalStock,
		ReorderPoint:  req.ReorderPoint,
		ReorderQty:    req.ReorderQty,
		MaxStockLevel: req.MaxStockLevel,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockResponse(created))
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Stock.GetStock(chi.URLParam(r, "productID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResponse(rec))
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) setStockStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_json", "request body is not valid json")
		return
	}

	productID := chi.URLParam(r, "productID")
	if err := h.Stock.SetStatus(productID, domain.StockStatus(req.Status)); err != nil {
		writeDomainError(w, err)
		return
	}

	rec, err := h.Stock.GetStock(productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResponse(rec))
}

type adjustRequest struct {
	Type     string `json:"type"`
	Quantity int64  `json:"quantity"`
	Reason   string `json:"reason"`
	Notes    string `json:"notes"`
}

type adjustResponse struct {
	ProductID        string `json:"product_id"`
	NewPhysicalStock int64  `json:"new_physical_stock"`
	Available        int64  `json:"available"`
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_json", "request body is not valid json")
		return
	}

	result, err := h.Stock.Adjust(r.Context(), domain.AdjustmentCommand{
		ProductID: chi.URLParam(r, "productID"),
		Type:      domain.AdjustmentType(req.Type),
		Quantity:  req.Quantity,
		Reason:    domain.AuditReason(req.Reason),
		Notes:     req.Notes,
		Actor:     actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adjustResponse{
		ProductID:        result.ProductID,
		NewPhysicalStock: result.NewPhysicalStock,
		Available:        result.AvailableAfter,
	})
}

type bulkAdjustItem struct {
	ProductID string `json:"product_id"`
	Type      string `json:"type"`
	Quantity  int64  `json:"quantity"`
	Reason    string `json:"reason"`
	Notes     string `json:"notes"`
}

type bulkAdjustRequest struct {
	Adjustments []bulkAdjustItem `json:"adjustments"`
}

type bulkAdjustResponse struct {
	UpdatedCount int                          `json:"updated_count"`
	Results      []adjustResponse             `json:"results,omitempty"`
	Errors       []domain.BulkAdjustmentError `json:"errors,omitempty"`
}

func (h *Handler) bulkAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req bulkAdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_json", "request body is not valid json")
		return
	}
	if len(req.Adjustments) == 0 {
		writeErrorCode(w, http.StatusBadRequest, "validation_failed", "adjustments list is empty")
		return
	}

	actor := actorFrom(r)
	cmds := make([]domain.AdjustmentCommand, 0, len(req.Adjustments))
	for _, item := range req.Adjustments {
		cmds = append(cmds, domain.AdjustmentCommand{
			ProductID: item.ProductID,
			Type:      domain.AdjustmentType(item.Type),
			Quantity:  item.Quantity,
			Reason:    domain.AuditReason(item.Reason),
			Notes:     item.Notes,
			Actor:     actor,
		})
	}

	result := h.Stock.BulkAdjust(r.Context(), cmds)

	resp := bulkAdjustResponse{UpdatedCount: result.UpdatedCount, Errors: result.Errors}
	for _, applied := range result.Results {
		resp.Results = append(resp.Results, adjustResponse{
			ProductID:        applied.ProductID,
			NewPhysicalStock: applied.NewPhysicalStock,
			Available:        applied.AvailableAfter,
		})
	}

	// Частичный успех — это 200 с поэлементным отчётом, а не ошибка запроса.
	writeJSON(w, http.StatusOK, resp)
}

type reservationResponse struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	OrderID        string    `json:"order_id"`
	Qty            int64     `json:"qty"`
	Status         string    `json:"status"`
	Notes          string    `json:"notes,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	Available      int64     `json:"available"`
	AlreadyApplied bool      `json:"already_applied,omitempty"`
}

func toReservationResponse(res domain.Reservation, available int64, alreadyApplied bool) reservationResponse {
	return reservationResponse{
		ID:             res.ID,
		ProductID:      res.ProductID,
		OrderID:        res.OrderID,
		Qty:            res.Qty,
		Status:         string(res.Status),
		Notes:          res.Notes,
		ExpiresAt:      res.ExpiresAt,
		CreatedAt:      res.CreatedAt,
		Available:      available,
		AlreadyApplied: alreadyApplied,
	}
}

type reserveRequest struct {
	ProductID  string `json:"product_id"`
	OrderID    string `json:"order_id"`
	Qty        int64  `json:"qty"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Notes      string `json:"notes"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_json", "request body is not valid json")
		return
	}

	result, err := h.Reservations.Reserve(r.Context(), domain.ReserveCommand{
		ProductID: req.ProductID,
		OrderID:   req.OrderID,
		Qty:       req.Qty,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		Notes:     req.Notes,
		Actor:     actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationResponse(result.Reservation, result.AvailableAfter, false))
}

type fulfillRequest struct {
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	Qty       int64  `json:"qty"`
}

func (h *Handler) fulfill(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_json", "request body is not valid json")
		return
	}

	result, err := h.Reservations.Fulfill(r.Context(), domain.FulfillCommand{
		ProductID: req.ProductID,
		OrderID:   req.OrderID,
		Qty:       req.Qty,
		Actor:     actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(result.Reservation, result.AvailableAfter, result.AlreadyTerminal))
}

type releaseRequest struct {
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
	Notes     string `json:"notes"`
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_json", "request body is not valid json")
		return
	}

	result, err := h.Reservations.Release(r.Context(), domain.ReleaseCommand{
		ProductID: req.ProductID,
		OrderID:   req.OrderID,
		Reason:    domain.AuditReason(req.Reason),
		Notes:     req.Notes,
		Actor:     actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(result.Reservation, result.AvailableAfter, result.AlreadyTerminal))
}

type auditEntryResponse struct {
	ID             int64     `json:"id"`
	ProductID      string    `json:"product_id"`
	Operation      string    `json:"operation"`
	PhysicalBefore int64     `json:"physical_before"`
	PhysicalAfter  int64     `json:"physical_after"`
	PhysicalChange int64     `json:"physical_change"`
	ReservedBefore int64     `json:"reserved_before"`
	ReservedAfter  int64     `json:"reserved_after"`
	Reason         string    `json:"reason"`
	OrderID        string    `json:"order_id,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type auditPageResponse struct {
	Entries []auditEntryResponse `json:"entries"`
	Total   int                  `json:"total"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
}

func (h *Handler) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.AuditFilter{
		ProductID: q.Get("product_id"),
		OrderID:   q.Get("order_id"),
		Operation: domain.AuditOperation(q.Get("operation")),
		Reason:    domain.AuditReason(q.Get("reason")),
		SortBy:    domain.AuditSortField(q.Get("sort_by")),
		SortDesc:  q.Get("sort_desc") == "true",
	}
	if v := q.Get("date_from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "validation_failed", "date_from must be RFC3339")
			return
		}
		filter.DateFrom = ts
	}
	if v := q.Get("date_to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "validation_failed", "date_to must be RFC3339")
			return
		}
		filter.DateTo = ts
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	filter = filter.Normalize()

	entries, total, err := h.Stock.QueryAudit(filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := auditPageResponse{
		Entries: make([]auditEntryResponse, 0, len(entries)),
		Total:   total,
		Page:    filter.Page,
		PerPage: filter.PerPage,
	}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, auditEntryResponse{
			ID:             entry.ID,
			ProductID:      entry.ProductID,
			Operation:      string(entry.Operation),
			PhysicalBefore: entry.PhysicalBefore,
			PhysicalAfter:  entry.PhysicalAfter,
			PhysicalChange: entry.PhysicalChange,
			ReservedBefore: entry.ReservedBefore,
			ReservedAfter:  entry.ReservedAfter,
			Reason:         string(entry.Reason),
			OrderID:        entry.OrderID,
			Notes:          entry.Notes,
			Actor:          entry.Actor,
			OccurredAt:     entry.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
