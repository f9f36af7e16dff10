// Package main discovers GitHub sponsorship networks, either once from the
// command line or on demand over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vladh/sponsor-finder/cmd"
	"github.com/vladh/sponsor-finder/internal"
)

// cli contains our command-line flags.
type cli struct {
	Network cmd.Network `cmd:"" help:"Print the sponsorship network around an organization."`
	Tally   cmd.Tally   `cmd:"" help:"Print lifetime sponsorship amounts received by a user."`
	Serve   server      `cmd:"" help:"Run an HTTP server."`
}

type server struct {
	cmd.GitHubConfig
	cmd.CrawlConfig
	cmd.LogConfig

	Port     int           `default:"8788" env:"PORT" help:"Port to serve traffic on."`
	CacheTTL time.Duration `default:"6h" env:"CACHE_TTL" help:"How long to remember relation lookups."`
}

func (s *server) Run() error {
	_ = s.LogConfig.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gql, err := s.Client(ctx)
	if err != nil {
		return err
	}
	fetcher := internal.NewFetcher(gql, s.PageSize)

	cache, err := internal.NewRelationCache(ctx, fetcher, s.CacheTTL, 0)
	if err != nil {
		return fmt.Errorf("setting up cache: %w", err)
	}

	h := internal.NewHandler(internal.NewCrawler(cache, s.Concurrency), fetcher)
	mux := internal.NewMux(h)

	mux = middleware.RequestSize(1024)(mux)  // Limit request bodies.
	mux = internal.Requestlogger{}.Wrap(mux) // Log requests.
	mux = middleware.RequestID(mux)          // Include a request ID header.
	mux = middleware.Recoverer(mux)          // Recover from panics.

	addr := fmt.Sprintf(":%d", s.Port)
	server := &http.Server{
		Handler:  mux,
		Addr:     addr,
		ErrorLog: slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	}

	go func() {
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt)
		<-shutdown
		slog.Info("shutting down http server")
		_ = server.Shutdown(ctx)
	}()

	slog.Info("listening on " + addr)
	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	slog.Info("au revoir!")

	return nil
}

func main() {
	kctx := kong.Parse(&cli{})
	err := kctx.Run()
	if err != nil {
		internal.Log(context.Background()).Error("fatal", "err", err)
		os.Exit(1)
	}
}
