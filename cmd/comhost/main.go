package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/comlink/internal/com"
	"github.com/danmuck/comlink/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to comhost config (toml)")
	flag.Parse()
	logging.ConfigureRuntime()

	cfg := defaultServiceConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loadServiceConfig(*configPath); err != nil {
			log.Fatal().Err(err).Msg("failed to load comhost config")
		}
		log.Info().Str("path", *configPath).Msg("loaded comhost config")
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("comhost stopped")
	}
}

func run(cfg serviceConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	acceptor, err := com.AcceptorByName(cfg.Acceptor)
	if err != nil {
		return err
	}
	host, err := com.NewHost(cfg.Host, acceptor)
	if err != nil {
		return err
	}
	ln, err := host.Listen()
	if err != nil {
		return err
	}

	adminErr := make(chan error, 1)
	if cfg.AdminAddr != "" {
		go func() {
			adminErr <- serveAdmin(ctx, host, cfg)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- host.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			stop()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

func serveAdmin(ctx context.Context, host *com.Host, cfg serviceConfig) error {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           host.AdminRouter(cfg.CorsOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", cfg.AdminAddr).Msg("comhost admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
