package session

// State is the position of a session in its connection state machine.
//
//	Disconnected -> Connected -> HandshakeDone -> LoggedIn -> Authenticated -> Ready
//
// Redirections and reconnects run through Redirecting -> Reconnecting and end
// in Ready or Failed.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateHandshakeDone
	StateLoggedIn
	StateAuthenticated
	StateReady
	StateRedirecting
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateHandshakeDone:
		return "handshake done"
	case StateLoggedIn:
		return "logged in"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	case StateRedirecting:
		return "redirecting"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
