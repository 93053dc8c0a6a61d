package ops

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/services/product-service/internal/catalog"
	"github.com/evercart/evercart/services/product-service/internal/storage"
)

// Handler exposes the catalog to operators. There is no public
// storefront in this system; writes arrive here or through backoffice
// tooling that speaks the same endpoints.
type Handler struct {
	pool    *db.Pool
	catalog *catalog.Service
	outbox  *outbox.Repository
}

func New(pool *db.Pool, catalogSvc *catalog.Service, outboxRepo *outbox.Repository) *Handler {
	return &Handler{pool: pool, catalog: catalogSvc, outbox: outboxRepo}
}

func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getProducts(w, r)
	case http.MethodPost:
		h.createProduct(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) getProducts(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		p, err := h.catalog.Get(r.Context(), id)
		if errors.Is(err, storage.ErrProductNotFound) {
			http.Error(w, "product not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	products, err := h.catalog.List(r.Context(), 100)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

type createProductRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	PriceCents   int64  `json:"price_cents"`
	Currency     string `json:"currency"`
	InitialStock int    `json:"initial_stock"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	p, err := h.catalog.Create(r.Context(), catalog.CreateInput{
		Name:         req.Name,
		Description:  req.Description,
		PriceCents:   req.PriceCents,
		Currency:     req.Currency,
		InitialStock: req.InitialStock,
	})
	if errors.Is(err, catalog.ErrEmptyName) || errors.Is(err, catalog.ErrInvalidPrice) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type updateProductRequest struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}

	p, err := h.catalog.UpdateDetails(r.Context(), req.ProductID, req.Name, req.Description)
	switch {
	case errors.Is(err, storage.ErrProductNotFound):
		http.Error(w, "product not found", http.StatusNotFound)
		return
	case errors.Is(err, catalog.ErrEmptyName):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type changePriceRequest struct {
	ProductID  string `json:"product_id"`
	PriceCents int64  `json:"price_cents"`
}

func (h *Handler) ChangePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req changePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}

	p, err := h.catalog.ChangePrice(r.Context(), req.ProductID, req.PriceCents)
	switch {
	case errors.Is(err, storage.ErrProductNotFound):
		http.Error(w, "product not found", http.StatusNotFound)
		return
	case errors.Is(err, catalog.ErrInvalidPrice):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "price change failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) OutboxStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tx, err := h.pool.Begin(r.Context())
	if err != nil {
		http.Error(w, "db unavailable", http.StatusServiceUnavailable)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	counts, err := h.outbox.CountByStatus(r.Context(), tx)
	if err != nil {
		http.Error(w, "count failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending":   counts.Pending,
		"processed": counts.Processed,
		"failed":    counts.Failed,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
