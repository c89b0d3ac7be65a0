package cellular

import (
	"context"
	"fmt"

	"github.com/cloudyourcar/atmodem/at"
)

// Socket is one multiplexed TCP connection over a Modem's PDP context.
// Obtain one with Modem.Connect.
type Socket struct {
	modem  *Modem
	connID int
	inbox  chan []byte
	closed bool
}

// Send writes data to the socket, chunked to the vendor command set's
// maximum payload per +CIPSEND, and returns the number of bytes actually
// accepted before the first error (if any).
func (s *Socket) Send(ctx context.Context, data []byte) (int, error) {
	sent := 0
	for sent < len(data) {
		chunk := data[sent:]
		if len(chunk) > maxSendChunk {
			chunk = chunk[:maxSendChunk]
		}
		s.modem.cmdMu.Lock()
		s.modem.ch.SetCommandScanner(scanSend, nil)
		cmd := fmt.Sprintf("+CIPSEND=%d,%d", s.connID, len(chunk))
		resp, err := s.modem.ch.DataCommand(ctx, cmd, "> ", chunk)
		s.modem.cmdMu.Unlock()
		if err != nil {
			return sent, err
		}
		if ferr := at.IsFinalError(resp); ferr != nil {
			return sent, ferr
		}
		sent += len(chunk)
	}
	return sent, nil
}

// Recv returns the next chunk of data delivered for this socket. Delivery
// is driven by the modem's own "data available" URC: Recv itself never
// issues a command, it only waits on the buffer the background receive
// loop fills.
func (s *Socket) Recv(ctx context.Context) ([]byte, error) {
	if s.closed {
		return nil, ErrSocketClosed
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b, ok := <-s.inbox:
		if !ok {
			return nil, ErrSocketClosed
		}
		return b, nil
	}
}

// Close closes the socket with +CIPCLOSE and releases its connection id
// back to the pool. It is idempotent.
func (s *Socket) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	_, err := s.modem.ch.Command(ctx, "+CIPCLOSE=%d", s.connID)
	s.modem.freeSocket(s.connID)
	return err
}
