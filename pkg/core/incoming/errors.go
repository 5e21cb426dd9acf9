package incoming

import (
	"fmt"
	"strings"
)

// ListenErrorCode classifies why the listener could not start.
type ListenErrorCode string

const (
	ErrCodePortInUse           ListenErrorCode = "PORT_IN_USE"
	ErrCodePermissionDenied    ListenErrorCode = "PERMISSION_DENIED"
	ErrCodeAddressNotAvailable ListenErrorCode = "ADDRESS_NOT_AVAILABLE"
	ErrCodeUnknown             ListenErrorCode = "UNKNOWN"
)

// ListenError is a failed bind with hints for the operator.
type ListenError struct {
	Code      ListenErrorCode
	Addr      string
	Message   string
	Hint      string
	Solutions []string
	Err       error
}

func (e *ListenError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("\n❌ Failed to listen on %s\n", e.Addr))
	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Message))

	if e.Hint != "" {
		sb.WriteString(fmt.Sprintf("\n💡 Hint: %s\n", e.Hint))
	}

	if len(e.Solutions) > 0 {
		sb.WriteString("\n🔧 Possible solutions:\n")
		for i, solution := range e.Solutions {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, solution))
		}
	}

	if e.Err != nil {
		sb.WriteString(fmt.Sprintf("\nOriginal error: %v\n", e.Err))
	}

	return sb.String()
}

func (e *ListenError) Unwrap() error {
	return e.Err
}

// NewListenError classifies err, returned while binding addr.
func NewListenError(addr string, err error) *ListenError {
	if err == nil {
		return nil
	}

	le := &ListenError{Addr: addr, Err: err}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "address already in use"):
		le.Code = ErrCodePortInUse
		le.Message = fmt.Sprintf("Address %s is already in use by another process", addr)
		le.Hint = "Another instance of the server or another application holds this port"
		le.Solutions = []string{
			"Check what's using the port: sudo lsof -i :<port>",
			"Pick a different address with --addr",
			"Wait a moment and try again (port might be in TIME_WAIT state)",
		}

	case strings.Contains(errStr, "permission denied"):
		le.Code = ErrCodePermissionDenied
		le.Message = fmt.Sprintf("Permission denied to bind %s", addr)
		le.Hint = "Ports below 1024 require elevated privileges"
		le.Solutions = []string{
			"Use an unprivileged port (> 1024) with --addr",
			"Grant CAP_NET_BIND_SERVICE capability: sudo setcap cap_net_bind_service=+ep /path/to/httpengine",
		}

	case strings.Contains(errStr, "cannot assign requested address"):
		le.Code = ErrCodeAddressNotAvailable
		le.Message = "Cannot assign the requested address"
		le.Hint = "The specified network interface or address is not available on this system"
		le.Solutions = []string{
			"Check available network interfaces: ip addr show",
			"Try binding to 0.0.0.0 instead of a specific IP",
		}

	default:
		le.Code = ErrCodeUnknown
		le.Message = err.Error()
		le.Hint = "An unexpected error occurred while starting the listener"
	}

	return le
}
