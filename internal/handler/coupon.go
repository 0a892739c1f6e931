package handler

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-storefront/internal/domain/coupon"
)

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctrl := controllerFrom(ctx)

	var req couponRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.fail(w, r, ctrl.View(), err)
		return
	}
	v, err := ctrl.ApplyCoupon(ctx, req.Code)
	h.respond(w, r, v, err)
}

// couponStatus maps applier errors. Rate limited answers carry Retry-After.
func couponStatus(w http.ResponseWriter, err error) (int, string, bool) {
	var rl *coupon.RateLimitedError
	switch {
	case errors.As(err, &rl):
		secs := int(math.Ceil(rl.Remaining.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		return http.StatusTooManyRequests, rl.Error(), true
	case errors.Is(err, coupon.ErrEmptyCode):
		return http.StatusBadRequest, err.Error(), true
	case errors.Is(err, coupon.ErrInvalidOrExpired):
		return http.StatusUnprocessableEntity, coupon.ErrInvalidOrExpired.Error(), true
	case errors.Is(err, coupon.ErrLookupFailed):
		return http.StatusBadGateway, coupon.ErrLookupFailed.Error(), true
	}
	return 0, "", false
}
