package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/comlink/internal/com"
	"github.com/danmuck/comlink/internal/config"
	"github.com/danmuck/comlink/internal/logging"
	"github.com/danmuck/comlink/internal/transport"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to comclient config (toml)")
	addr := flag.String("addr", "", "host address, overrides the config")
	message := flag.String("message", "", "send one message and print the reply; reads stdin lines when empty")
	flag.Parse()
	logging.ConfigureRuntime()

	cfg := com.DefaultClientConfig()
	if *configPath != "" {
		file, err := config.LoadClientConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load comclient config")
		}
		if cfg, err = file.ClientConfig(); err != nil {
			log.Fatal().Err(err).Msg("invalid comclient config")
		}
	}
	if *addr != "" {
		cfg.Address = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := com.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build client")
	}
	ch, err := client.Connect(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Address).Msg("connect failed")
	}
	defer ch.Close()

	var in io.Reader = os.Stdin
	if *message != "" {
		in = strings.NewReader(*message + "\n")
	}
	if err := converse(ctx, ch, in, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "comclient: %v\n", err)
		os.Exit(1)
	}
}

// converse sends each input line as one chunk and prints each reply. A host
// that hangs up ends the conversation without error.
func converse(ctx context.Context, ch *com.Channel, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for ctx.Err() == nil && scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if err := ch.Send([]byte(line)); err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		reply, err := ch.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintln(out, string(reply)); err != nil {
			return err
		}
	}
	return scanner.Err()
}
