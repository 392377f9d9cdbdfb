package api

import (
	"net/http"

	"github.com/ghostmesh/ghostnode/internal/ghosterr"
)

// statusFor maps a ghosterr.Kind to the HTTP status an operator client
// should see, falling back to 500 for anything unrecognized or unwrapped.
func statusFor(err error) int {
	switch {
	case ghosterr.Is(err, ghosterr.NotFound):
		return http.StatusNotFound
	case ghosterr.Is(err, ghosterr.DuplicateName):
		return http.StatusConflict
	case ghosterr.Is(err, ghosterr.InsufficientFunds):
		return http.StatusPaymentRequired
	case ghosterr.Is(err, ghosterr.Unauthorized):
		return http.StatusUnauthorized
	case ghosterr.Is(err, ghosterr.CooldownActive):
		return http.StatusTooManyRequests
	case ghosterr.Is(err, ghosterr.SelfTransfer), ghosterr.Is(err, ghosterr.NonPositiveAmount):
		return http.StatusBadRequest
	case ghosterr.Is(err, ghosterr.InvalidArgument):
		return http.StatusBadRequest
	case ghosterr.Is(err, ghosterr.VmValidationError):
		return http.StatusBadRequest
	case ghosterr.Is(err, ghosterr.VmRuntimeError):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
