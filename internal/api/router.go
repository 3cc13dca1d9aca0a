package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/ec-order-engine/internal/api/middleware"
	"github.com/example/ec-order-engine/internal/auth"
	"github.com/example/ec-order-engine/internal/domain/user"
)

// NewRouter wires the HTTP surface. metricsHandler serves /metrics and is
// built by the caller from its Prometheus registry.
func NewRouter(h *Handlers, ah *AuthHandlers, tokens *auth.TokenService, metricsHandler http.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Get("/healthz", h.Healthz)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)
	r.Get("/products/{id}", h.GetProduct)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(tokens))

		r.Get("/auth/me", ah.Me)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.GetOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Put("/orders/{id}/cancel", h.CancelOrder)
		r.Post("/orders/verify-payment", h.VerifyPayment)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(user.RoleAdmin))

			r.Post("/products", h.CreateProduct)
			r.Put("/orders/{id}/status", h.UpdateOrderStatus)
			r.Get("/admin/orders", h.GetAllOrders)
			r.Delete("/admin/users/{id}/orders", h.PurgeUserOrders)
		})
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
