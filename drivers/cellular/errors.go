package cellular

import "github.com/pkg/errors"

var (
	// ErrNoFreeSockets indicates the socket pool (maxSockets entries, the
	// vendor command set's own limit) is fully allocated.
	ErrNoFreeSockets = errors.New("cellular: no free sockets")

	// ErrConnectFailed indicates the modem reported CONNECT FAIL, ALREADY
	// CONNECT or CLOSED for a +CIPSTART in progress.
	ErrConnectFailed = errors.New("cellular: socket connect failed")

	// ErrSocketClosed indicates a Recv was attempted on a socket that has
	// been closed with Close.
	ErrSocketClosed = errors.New("cellular: socket closed")

	// ErrPDPNotOpen indicates +CIPSTATUS did not report IP STATUS or IP
	// PROCESSING after an open attempt.
	ErrPDPNotOpen = errors.New("cellular: PDP context not open")
)
