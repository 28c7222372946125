package httpx

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
)

type orderItemRequest struct {
	ProductID  string `json:"product_id"`
	Qty        int64  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type createOrderRequest struct {
	CustomerID     string             `json:"customer_id"`
	Currency       string             `json:"currency"`
	Items          []orderItemRequest `json:"items"`
	ReservationIDs []string           `json:"reservation_ids"`
}

type orderItemResponse struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	Qty            int64  `json:"qty"`
	PriceMinor     int64  `json:"price_minor"`
	LineTotalMinor int64  `json:"line_total_minor"`
}

type orderResponse struct {
	ID             string              `json:"id"`
	Number         string              `json:"number"`
	CustomerID     string              `json:"customer_id"`
	Status         string              `json:"status"`
	Currency       string              `json:"currency"`
	TotalMinor     int64               `json:"total_minor"`
	Items          []orderItemResponse `json:"items"`
	ReservationIDs []string            `json:"reservation_ids,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

func toOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		ID:             order.ID,
		Number:         order.Number,
		CustomerID:     order.CustomerID,
		Status:         string(order.Status),
		Currency:       order.Currency,
		TotalMinor:     order.TotalMinor,
		ReservationIDs: order.ReservationIDs,
		CreatedAt:      order.CreatedAt,
		Items:          make([]orderItemResponse, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Qty:            item.Qty,
			PriceMinor:     item.PriceMinor,
			LineTotalMinor: item.LineTotalMinor,
		})
	}
	return resp
}

// createOrder создаёт заказ атомарно. Заголовок Idempotency-Key делает
// повтор запроса безопасным: сохранённый ответ отдаётся без повторного
// списания остатков.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_body", "cannot read request body")
		return
	}

	key := r.Header.Get(headerIdempotencyKey)
	if key != "" && h.Idempotency != nil {
		if done := h.beginIdempotent(w, key, body); done {
			return
		}
	}

	status, respBody := h.processCreateOrder(r, body)

	if key != "" && h.Idempotency != nil {
		h.finishIdempotent(key, status, respBody)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

// beginIdempotent занимает idempotency-key. Возвращает true, если ответ
// уже отправлен (повтор или конфликт) и обработка не нужна.
func (h *Handler) beginIdempotent(w http.ResponseWriter, key string, body []byte) bool {
	hash := sha256.Sum256(body)
	requestHash := hex.EncodeToString(hash[:])

	_, err := h.Idempotency.CreateProcessing(key, requestHash, time.Now().UTC().Add(idempotencyTTL))
	if err == nil {
		return false
	}
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		h.logger().WithError(err).WithField("idempotency_key", key).Error("idempotency create failed")
		writeErrorCode(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return true
	}

	record, err := h.Idempotency.Get(key)
	if err != nil {
		h.logger().WithError(err).WithField("idempotency_key", key).Error("idempotency lookup failed")
		writeErrorCode(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return true
	}

	if record.RequestHash != requestHash {
		writeDomainError(w, domain.ErrIdempotencyHashMismatch)
		return true
	}

	if !record.Status.Terminal() {
		writeErrorCode(w, http.StatusConflict, "request_in_flight", "request with this idempotency key is still processing")
		return true
	}

	// Повтор завершённого запроса: отдаём сохранённый ответ как есть.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(record.HTTPStatus)
	_, _ = w.Write(record.ResponseBody)
	return true
}

func (h *Handler) finishIdempotent(key string, status int, respBody []byte) {
	var err error
	if status >= 200 && status < 300 {
		err = h.Idempotency.MarkDone(key, respBody, status)
	} else {
		err = h.Idempotency.MarkFailed(key, respBody, status)
	}
	if err != nil {
		h.logger().WithError(err).WithField("idempotency_key", key).Error("idempotency finalize failed")
	}
}

// processCreateOrder выполняет создание заказа и возвращает статус с телом
// ответа, пригодными для сохранения под idempotency-key.
func (h *Handler) processCreateOrder(r *http.Request, body []byte) (int, []byte) {
	var req createOrderRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		return http.StatusBadRequest, mustMarshal(errorResponse{Error: errorBody{
			Code: "invalid_json", Message: "request body is not valid json",
		}})
	}

	order := domain.Order{
		CustomerID:     req.CustomerID,
		Currency:       req.Currency,
		ReservationIDs: req.ReservationIDs,
		Items:          make([]domain.OrderItem, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:      item.ProductID,
			Qty:            item.Qty,
			PriceMinor:     item.PriceMinor,
			LineTotalMinor: item.Qty * item.PriceMinor,
		})
		order.TotalMinor += item.Qty * item.PriceMinor
	}

	created, err := h.Orders.CreateOrder(r.Context(), order)
	if err != nil {
		rec := errorRecorder{}
		writeDomainError(&rec, err)
		return rec.status, rec.body.Bytes()
	}

	return http.StatusCreated, mustMarshal(toOrderResponse(created))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.GetOrder(chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) logger() *log.Entry {
	if h.Logger != nil {
		return h.Logger
	}
	return log.WithField("component", "httpx")
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// errorRecorder — минимальный ResponseWriter для захвата тела и статуса
// доменной ошибки перед сохранением под idempotency-key.
type errorRecorder struct {
	status int
	header http.Header
	body   bytes.Buffer
}

func (r *errorRecorder) Header() http.Header {
	if r.header == nil {
		r.header = make(http.Header)
	}
	return r.header
}

func (r *errorRecorder) Write(b []byte) (int, error) {
	return r.body.Write(b)
}

func (r *errorRecorder) WriteHeader(status int) {
	r.status = status
}
