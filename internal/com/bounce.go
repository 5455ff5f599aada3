package com

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/comlink/internal/transport"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// Bounce answers exactly one message and closes the channel. It exists to
// demonstrate the API, not for real traffic.
func Bounce(_ context.Context, ch *Channel) error {
	payload, err := ch.Receive()
	if err != nil {
		return err
	}
	reply := "You said: \"" + string(payload) + "\". Goodbye."
	if err := ch.Send([]byte(reply)); err != nil {
		return err
	}
	return ch.Close()
}

// Echo returns every chunk unchanged until the peer disconnects or ctx is
// done.
func Echo(ctx context.Context, ch *Channel) error {
	var total uint64
	defer func() {
		log.Debug().
			Str("remote", ch.RemoteAddr()).
			Str("echoed", humanize.IBytes(total)).
			Msg("com.Echo finished")
	}()
	for ctx.Err() == nil {
		payload, err := ch.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		if err := ch.Send(payload); err != nil {
			return err
		}
		total += uint64(len(payload))
	}
	return ctx.Err()
}

// AcceptorByName resolves the acceptors commands can select by name.
func AcceptorByName(name string) (Acceptor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bounce":
		return Bounce, nil
	case "echo":
		return Echo, nil
	default:
		return nil, fmt.Errorf("com: unknown acceptor %q", name)
	}
}
