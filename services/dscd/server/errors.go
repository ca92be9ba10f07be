package server

import (
	"errors"
	"net/http"

	nativecommon "stablecore/native/common"
	"stablecore/native/dsc"
	"stablecore/native/token"
)

var (
	errUnauthenticated = errors.New("authentication required")
	errNotFound        = errors.New("not found")
	errForbidden       = errors.New("caller is not an oracle operator")
)

// errorStatus maps engine and request errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, dsc.ErrNeedsMoreThanZero),
		errors.Is(err, dsc.ErrAmountOverflow),
		errors.Is(err, dsc.ErrTokenNotAllowed),
		errors.Is(err, dsc.ErrZeroAddress),
		errors.Is(err, dsc.ErrDebtToCoverExceedsDebt),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrAmountOverflow),
		errors.Is(err, token.ErrZeroAddress):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, dsc.ErrStalePrice),
		errors.Is(err, dsc.ErrInvalidPrice),
		errors.Is(err, dsc.ErrFeedNotFound):
		return http.StatusFailedDependency
	case errors.Is(err, dsc.ErrBreaksHealthFactor),
		errors.Is(err, dsc.ErrHealthFactorOk),
		errors.Is(err, dsc.ErrHealthFactorNotImproved),
		errors.Is(err, dsc.ErrReentrantCall),
		errors.Is(err, dsc.ErrLedgerUnderflow),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrBurnAmountExceedsBalance):
		return http.StatusConflict
	case errors.Is(err, dsc.ErrTransferFailed),
		errors.Is(err, dsc.ErrMintFailed),
		errors.Is(err, dsc.ErrBurnFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = http.StatusText(status)
	}
	writeError(w, r, status, message)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":     message,
		"requestId": w.Header().Get(requestIDHeader),
	})
}
