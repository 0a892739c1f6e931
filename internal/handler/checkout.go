package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/checkout"
)

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctrl := controllerFrom(ctx)

	var req checkoutRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.fail(w, r, ctrl.View(), err)
		return
	}

	res, err := ctrl.Checkout(ctx, req.SourceID)
	if err != nil {
		var nr *checkout.OrderNotRecordedError
		if errors.As(err, &nr) {
			zctx.From(ctx).Error("Payment captured without order",
				zap.String("order_id", nr.OrderID),
				zap.String("payment_id", nr.PaymentID),
			)
		}
		h.fail(w, r, ctrl.View(), err)
		return
	}
	writeCheckout(w, res, ctrl.View())
}

func checkoutStatus(err error) (int, string, bool) {
	var nr *checkout.OrderNotRecordedError
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusUnprocessableEntity, err.Error(), true
	case errors.Is(err, checkout.ErrPaymentFailed):
		return http.StatusPaymentRequired, checkout.ErrPaymentFailed.Error(), true
	case errors.Is(err, checkout.ErrPaymentCancelled):
		return http.StatusConflict, err.Error(), true
	case errors.Is(err, checkout.ErrAbandoned):
		return http.StatusGatewayTimeout, err.Error(), true
	case errors.As(err, &nr):
		return http.StatusBadGateway, "payment " + nr.PaymentID + " captured, order " + nr.OrderID + " not recorded", true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled", true
	}
	return 0, "", false
}
