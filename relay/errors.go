package relay

import "errors"

// ErrHubClosed is returned by hub and ingest operations attempted after Shutdown.
var ErrHubClosed = errors.New("relay: hub closed")

// CloseCause records why a connection transitioned to Closed. Per-connection
// failures are isolated: a cause is fatal to its own connection only and never
// propagates to the hub or to other connections.
type CloseCause int

const (
	// CauseNone means the connection has not closed.
	CauseNone CloseCause = iota
	// CauseHandshakeTimeout: the handshake window expired before a nickname arrived.
	CauseHandshakeTimeout
	// CauseFrameTooLong: no line terminator within the maximum line length.
	CauseFrameTooLong
	// CauseSlowConsumer: the outbound queue overflowed under sustained backpressure.
	CauseSlowConsumer
	// CauseReadError: the client side of the socket failed or disconnected.
	CauseReadError
	// CauseWriteError: a socket write failed.
	CauseWriteError
	// CauseShutdown: the hub was shut down.
	CauseShutdown
	// CauseClientQuit: the client sent QUIT.
	CauseClientQuit
)

// String returns the metrics/log label for the cause.
func (c CloseCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseHandshakeTimeout:
		return "handshake_timeout"
	case CauseFrameTooLong:
		return "frame_too_long"
	case CauseSlowConsumer:
		return "slow_consumer"
	case CauseReadError:
		return "read_error"
	case CauseWriteError:
		return "write_error"
	case CauseShutdown:
		return "shutdown"
	case CauseClientQuit:
		return "client_quit"
	default:
		return "unknown"
	}
}
