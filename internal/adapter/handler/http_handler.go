package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sethvargo/go-retry"

	"github.com/haishop/catalog/internal/core/domain"
	"github.com/haishop/catalog/internal/core/service"
	"github.com/haishop/catalog/internal/port"
)

// HTTPHandler exposes the catalog API. Responses use a uniform envelope:
// {"success": ..., "data": ..., "error": {"code", "message"}}.
type HTTPHandler struct {
	inventory      *service.InventoryService
	products       *service.ProductService
	reserveRetries uint64
}

func NewHTTPHandler(inventory *service.InventoryService, products *service.ProductService, reserveRetries uint64) *HTTPHandler {
	if reserveRetries == 0 {
		reserveRetries = 3
	}
	return &HTTPHandler{
		inventory:      inventory,
		products:       products,
		reserveRetries: reserveRetries,
	}
}

type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type stockRequest struct {
	Quantity int `json:"quantity"`
}

type stockResponse struct {
	ProductID string `json:"product_id"`
	Applied   bool   `json:"applied"`
	Reason    string `json:"reason,omitempty"`
}

type batchReserveRequest struct {
	Items []domain.BatchReserveItem `json:"items"`
}

type inventoryResponse struct {
	ProductID         string `json:"product_id"`
	AvailableQuantity int    `json:"available_quantity"`
	ReservedQuantity  int    `json:"reserved_quantity"`
	Version           int    `json:"version"`
}

// Reserve handles POST /api/v1/inventory/{productID}/reserve. A version
// conflict is retried with bounded fibonacci backoff before giving up; the
// caller still sees a conflict response if the budget runs out.
func (h *HTTPHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	req, ok := decodeStockRequest(w, r)
	if !ok {
		return
	}

	var applied bool
	backoff := retry.WithMaxRetries(h.reserveRetries, retry.NewFibonacci(50*time.Millisecond))
	err := retry.Do(r.Context(), backoff, func(ctx context.Context) error {
		var rerr error
		applied, rerr = h.inventory.Reserve(ctx, productID, req.Quantity)
		if errors.Is(rerr, domain.ErrConcurrencyConflict) {
			return retry.RetryableError(rerr)
		}
		return rerr
	})
	h.writeStockOutcome(w, productID, applied, err, domain.ReasonInsufficientStock)
}

// Release handles POST /api/v1/inventory/{productID}/release.
func (h *HTTPHandler) Release(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	req, ok := decodeStockRequest(w, r)
	if !ok {
		return
	}
	applied, err := h.inventory.Release(r.Context(), productID, req.Quantity)
	h.writeStockOutcome(w, productID, applied, err, "insufficient reserved stock")
}

// Confirm handles POST /api/v1/inventory/{productID}/confirm.
func (h *HTTPHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	req, ok := decodeStockRequest(w, r)
	if !ok {
		return
	}
	applied, err := h.inventory.Confirm(r.Context(), productID, req.Quantity)
	h.writeStockOutcome(w, productID, applied, err, "insufficient reserved stock")
}

// BatchReserve handles POST /api/v1/inventory/batch-reserve.
func (h *HTTPHandler) BatchReserve(w http.ResponseWriter, r *http.Request) {
	var req batchReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "items must not be empty")
		return
	}
	results := h.inventory.BatchReserve(r.Context(), req.Items)
	writeData(w, http.StatusOK, results)
}

// GetStock handles GET /api/v1/inventory/{productID}.
func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	rec, err := h.inventory.GetStock(r.Context(), productID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, inventoryResponse{
		ProductID:         rec.ProductID,
		AvailableQuantity: rec.AvailableQuantity,
		ReservedQuantity:  rec.ReservedQuantity,
		Version:           rec.Version,
	})
}

// CreateProduct handles POST /api/v1/products.
func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in service.CreateProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	p, err := h.products.CreateProduct(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeData(w, http.StatusCreated, p)
}

// GetProduct handles GET /api/v1/products/{productID}.
func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

// UpdateProduct handles PUT /api/v1/products/{productID}.
func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	p, err := h.products.UpdateProduct(r.Context(), chi.URLParam(r, "productID"), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

// ListProducts handles GET /api/v1/products.
func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	products, err := h.products.ListProducts(r.Context(), port.ProductFilter{
		State:      domain.ProductState(q.Get("state")),
		CategoryID: q.Get("category_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, products)
}

type createCategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id"`
}

// CreateCategory handles POST /api/v1/categories.
func (h *HTTPHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	c, err := h.products.CreateCategory(r.Context(), req.Name, req.Description, req.ParentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeData(w, http.StatusCreated, c)
}

// ListCategories handles GET /api/v1/categories.
func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.products.ListCategories(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, categories)
}

// HealthCheck handles GET /health.
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeStockRequest(w http.ResponseWriter, r *http.Request) (stockRequest, bool) {
	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return req, false
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "quantity must be positive")
		return req, false
	}
	return req, true
}

func (h *HTTPHandler) writeStockOutcome(w http.ResponseWriter, productID string, applied bool, err error, insufficientReason string) {
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	resp := stockResponse{ProductID: productID, Applied: applied}
	if !applied {
		// Not an error: stock exhaustion is an expected business condition.
		resp.Reason = insufficientReason
	}
	writeData(w, http.StatusOK, resp)
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, "entity_not_found", err.Error())
	case errors.Is(err, domain.ErrLockAcquisitionFailed):
		writeError(w, http.StatusConflict, "lock_acquisition_failed", err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "concurrency_conflict", err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Error: &envelopeError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
