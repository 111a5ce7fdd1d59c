package errors

import "net/http"

// HTTPStatus maps an error Kind to the HTTP status the routes layer (out of
// scope here, but named in spec §7) is expected to surface.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindPreconditionFailed:
		return http.StatusConflict
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindFatal, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
