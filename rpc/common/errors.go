package common

import (
	"errors"
	"fmt"
	"net"
)

// --------------------------------------------------------------------------
// Error taxonomy
// --------------------------------------------------------------------------

var (
	// ErrFraming is returned for malformed or truncated wire data
	ErrFraming = errors.New("framing error")
	// ErrConnectionLost is returned when the socket was closed or failed
	ErrConnectionLost = errors.New("connection lost")
	// ErrTimeout is returned when a local wait exceeded its deadline
	ErrTimeout = errors.New("request timed out")
	// ErrNotFound is returned for stale logical connection ids
	ErrNotFound = errors.New("logical connection not found")
	// ErrRedirectLoop is returned when too many redirections happened within the redirect window
	ErrRedirectLoop = errors.New("too many redirections")
	// ErrDomainDenied is returned when a redirection target is rejected by the domain rules
	ErrDomainDenied = errors.New("redirection target domain not allowed")
	// ErrLegacyProtocol is returned when the server only speaks the legacy protocol
	ErrLegacyProtocol = errors.New("server speaks the legacy protocol")
	// ErrPartialResponse is returned when a partial response is interrupted by a non-ok status
	ErrPartialResponse = errors.New("partial response interrupted")
	// ErrStreamOverflow is returned when frames of a reply were dropped because
	// the reply queue of its stream was full
	ErrStreamOverflow = errors.New("stream overflow")
	// ErrClosed is returned when an operation is attempted on a closed component
	ErrClosed = errors.New("closed")
)

// ServerError is an explicit refusal of a request by the server.
// It is terminal for the request and never retried.
type ServerError struct {
	Code    int32
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// AuthError is returned when none of the offered mechanisms could be satisfied.
// It carries the failure reason of the last mechanism tried.
type AuthError struct {
	Mechanism string
	Reason    string
}

func (e *AuthError) Error() string {
	if e.Mechanism == "" {
		return fmt.Sprintf("authentication failed: %s", e.Reason)
	}
	return fmt.Sprintf("authentication failed (%s): %s", e.Mechanism, e.Reason)
}

// PartialResponseError is returned when OkSoFar parts were followed by a
// status other than Ok. It matches ErrPartialResponse and, if the server sent
// an error, the *ServerError carrying its code and message.
type PartialResponseError struct {
	Status   uint16
	Received int
	Cause    error
}

func (e *PartialResponseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v after %d bytes: %v", ErrPartialResponse, e.Received, e.Cause)
	}
	return fmt.Sprintf("%v after %d bytes by status %d", ErrPartialResponse, e.Received, e.Status)
}

func (e *PartialResponseError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrPartialResponse}
	}
	return []error{ErrPartialResponse, e.Cause}
}

// IsCommunicationError reports whether err is a transient transport failure
// that may be recovered by retrying or reconnecting.
func IsCommunicationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrFraming) ||
		errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStreamOverflow) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// NeedsReconnect reports whether err invalidated the physical connection.
// Timeouts and stream overflows leave the socket usable; everything else
// communication related does not.
func NeedsReconnect(err error) bool {
	return IsCommunicationError(err) && !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrStreamOverflow)
}
