// Package handler is the HTTP surface of the storefront: cart, coupon and
// checkout endpoints over a per-session controller.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/storefront"
	"github.com/xenking/oolio-storefront/pkg/httpmiddleware"
)

// Session transport names.
const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "sid"
)

const sessionCookieMaxAge = 30 * 24 * time.Hour

// Sessions resolves the controller of a session.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*storefront.Controller, error)
}

var _ Sessions = (*storefront.Registry)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(h *Handler) { h.secureCookie = secure }
}

// Handler serves the storefront API.
type Handler struct {
	sessions     Sessions
	validate     *validator.Validate
	secureCookie bool
}

// New creates a Handler.
func New(sessions Sessions, opts ...Option) *Handler {
	h := &Handler{
		sessions: sessions,
		validate: newValidator(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes mounts the API under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.session)

		r.Get("/cart", h.getCart)
		r.Delete("/cart", h.clearCart)
		r.Post("/cart/items", h.addItem)
		r.Patch("/cart/items", h.updateQuantity)
		r.Delete("/cart/items", h.removeItem)
		r.Post("/cart/coupon", h.applyCoupon)
		r.Post("/checkout", h.checkout)
	})
}

type controllerKey struct{}

func controllerFrom(ctx context.Context) *storefront.Controller {
	return ctx.Value(controllerKey{}).(*storefront.Controller)
}

// session resolves the session ID from the header or the cookie, issuing a
// new one when neither carries a valid ID, and loads its controller.
func (h *Handler) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id := h.sessionID(r)
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   int(sessionCookieMaxAge.Seconds()),
				HttpOnly: true,
				Secure:   h.secureCookie,
				SameSite: http.SameSiteLaxMode,
			})
		}
		w.Header().Set(SessionHeader, id)

		lg := zctx.From(ctx).With(zap.String("session_id", id))
		ctx = zctx.Base(ctx, lg)

		ctrl, err := h.sessions.Get(ctx, id)
		if err != nil {
			lg.Error("Failed to load session", zap.Error(err))
			httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "session unavailable")
			return
		}

		ctx = context.WithValue(ctx, controllerKey{}, ctrl)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); h.validSessionID(id) {
		return id
	}
	if c, err := r.Cookie(SessionCookie); err == nil && h.validSessionID(c.Value) {
		return c.Value
	}
	return ""
}

func (h *Handler) validSessionID(id string) bool {
	return id != "" && h.validate.Var(id, "uuid") == nil
}
