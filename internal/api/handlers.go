package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ec-order-engine/internal/api/middleware"
	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/domain/product"
	"github.com/example/ec-order-engine/internal/infrastructure/store"
	"github.com/example/ec-order-engine/internal/service"
)

type Handlers struct {
	svc      *service.OrderService
	products store.ProductStore
	logger   *zap.Logger
}

func NewHandlers(svc *service.OrderService, products store.ProductStore, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{svc: svc, products: products, logger: logger}
}

// Product Handlers

type createProductRequest struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := product.New(uuid.New().String(), req.Name, req.PriceCents, req.Stock)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.products.PutProduct(r.Context(), p); err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, p)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Order Handlers

type orderResponse struct {
	Order         *order.Order `json:"order"`
	PaymentIntent any          `json:"payment_intent,omitempty"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var in service.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, intent, err := h.svc.CreateOrder(r.Context(), middleware.UserID(r.Context()), in)
	if err != nil {
		// The order may exist with its stock reserved even when the
		// payment intent could not be opened. Return it so the client
		// can retry payment against the same order.
		if o != nil {
			status, message := statusFor(err)
			respondJSON(w, status, map[string]any{"message": message, "order": o})
			return
		}
		h.respondError(w, err)
		return
	}

	resp := orderResponse{Order: o}
	if intent != nil {
		resp.PaymentIntent = intent
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListOrders(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"),
		middleware.UserID(r.Context()), isAdmin(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var in service.StatusUpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancellation.
	_ = json.NewDecoder(r.Body).Decode(&req)

	o, err := h.svc.CancelOrder(r.Context(), chi.URLParam(r, "id"),
		middleware.UserID(r.Context()), req.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

type verifyPaymentRequest struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
	Signature  string `json:"signature"`
}

func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.svc.ConfirmPayment(r.Context(), req.OrderID, req.PaymentRef, req.Signature)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// Admin Handlers

func (h *Handlers) GetAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListAllOrders(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) PurgeUserOrders(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.svc.PurgeUserOrders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func isAdmin(r *http.Request) bool {
	claims, ok := middleware.UserFromContext(r.Context())
	return ok && claims.Role == "admin"
}
