package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	ErrTimeout            = errors.New("transport: operation timed out")
	ErrConnectionClosed   = errors.New("transport: connection closed")
	ErrConnectionBroken   = errors.New("transport: connection broken by abandoned operation")
	ErrHandshakeFailed    = errors.New("transport: tls handshake failed")
	ErrEngineInvariant    = errors.New("transport: unexpected tls engine state")
	ErrSecurityNotEnabled = errors.New("transport: security not enabled")
	ErrInvalidLength      = errors.New("transport: invalid read length")
)

// classify maps raw channel errors onto the transport taxonomy. The original
// error stays in the chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrConnectionClosed),
		errors.Is(err, ErrConnectionBroken):
		return err
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %s: %w", ErrConnectionClosed, op, err)
	default:
		return fmt.Errorf("transport: %s: %w", op, err)
	}
}
