package domain

import "errors"

var (
	ErrTransport             = errors.New("transport failure")
	ErrServerRejected        = errors.New("server rejected request")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrUnsupportedCapability = errors.New("unsupported capability")
	ErrMalformedResponse     = errors.New("malformed response")
	ErrInsecureContext       = errors.New("insecure context")

	// ErrSuperseded is returned when a newer request for the same device was issued
	// before this one resolved and stale responses are being discarded.
	ErrSuperseded = errors.New("superseded by newer request")
)

// Reason maps an error to the short user-facing explanation shown for it.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "microphone permission denied"
	case errors.Is(err, ErrInsecureContext):
		return "recording requires a secure (https or localhost) connection"
	case errors.Is(err, ErrUnsupportedCapability):
		return "this capability is not supported here"
	case errors.Is(err, ErrServerRejected):
		return "the server rejected the request"
	case errors.Is(err, ErrMalformedResponse):
		return "could not parse response"
	case errors.Is(err, ErrTransport):
		return "network error"
	case errors.Is(err, ErrSuperseded):
		return "superseded by a newer request"
	default:
		return err.Error()
	}
}
