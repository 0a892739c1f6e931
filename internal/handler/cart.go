package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/cart"
	"github.com/xenking/oolio-storefront/internal/domain/storefront"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	writeView(w, http.StatusOK, controllerFrom(r.Context()).Refresh(r.Context()), "")
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctrl := controllerFrom(ctx)

	var req addItemRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.fail(w, r, ctrl.View(), err)
		return
	}
	v, err := ctrl.AddItem(ctx, req.Product.Product(), req.SelectedBrand, req.SelectedModel)
	h.respond(w, r, v, err)
}

func (h *Handler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctrl := controllerFrom(ctx)

	var req variantRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.fail(w, r, ctrl.View(), err)
		return
	}
	v, err := ctrl.UpdateQuantity(ctx, req.Key(), req.Quantity)
	h.respond(w, r, v, err)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctrl := controllerFrom(ctx)

	q := r.URL.Query()
	req := variantRequest{
		ID:            q.Get("id"),
		SelectedBrand: q.Get("selectedBrand"),
		SelectedModel: q.Get("selectedModel"),
	}
	if err := h.validateStruct(&req); err != nil {
		h.fail(w, r, ctrl.View(), err)
		return
	}
	v, err := ctrl.RemoveItem(ctx, req.Key())
	h.respond(w, r, v, err)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := controllerFrom(ctx).ClearCart(ctx)
	h.respond(w, r, v, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, v storefront.View, err error) {
	if err != nil {
		h.fail(w, r, v, err)
		return
	}
	writeView(w, http.StatusOK, v, "")
}

// fail maps err to a status and writes it next to the view.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, v storefront.View, err error) {
	status, msg := h.errorStatus(w, err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	writeView(w, status, v, msg)
}

func (h *Handler) errorStatus(w http.ResponseWriter, err error) (int, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.msg
	case errors.Is(err, cart.ErrQuantityBelowOne):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, storefront.ErrCheckoutInProgress):
		return http.StatusConflict, err.Error()
	}
	if status, msg, ok := couponStatus(w, err); ok {
		return status, msg
	}
	if status, msg, ok := checkoutStatus(err); ok {
		return status, msg
	}
	return http.StatusInternalServerError, "internal error"
}
