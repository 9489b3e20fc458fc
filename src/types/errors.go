package types

import (
	"errors"
	"net/http"
)

// Request-level failure taxonomy. Handlers wrap the concrete cause and map
// the sentinel to an HTTP status at the boundary.
var (
	ErrUnauthenticated    = errors.New("missing or invalid credentials")
	ErrNotFound           = errors.New("record not found")
	ErrPriceMismatch      = errors.New("submitted amount does not match server-side total")
	ErrValidation         = errors.New("invalid request")
	ErrForbidden          = errors.New("not enough permissions to perform this action")
	ErrConflict           = errors.New("request conflicts with current state")
	ErrGone               = errors.New("resource has expired")
	ErrListingUnavailable = errors.New("listing is no longer available")
	ErrSelfPurchase       = errors.New("cannot purchase your own listing")
	ErrSellerNotPayable   = errors.New("seller has no payment account")
	ErrUpstream           = errors.New("payment provider request failed")
)

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPriceMismatch), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrListingUnavailable),
		errors.Is(err, ErrSelfPurchase),
		errors.Is(err, ErrSellerNotPayable):
		return http.StatusConflict
	case errors.Is(err, ErrGone):
		return http.StatusGone
	case errors.Is(err, ErrUpstream):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
