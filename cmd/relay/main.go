package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/koscakluka/ema-relay/core/relay"
	"github.com/koscakluka/ema-relay/core/upstream"
	"github.com/koscakluka/ema-relay/core/wire"
	"github.com/koscakluka/ema-relay/internal/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const scopeName = "github.com/koscakluka/ema-relay/cmd/relay"

var logger = otelslog.NewLogger(scopeName)

func main() {
	cfg, err := config.LoadRelay(".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionConfig := upstream.DefaultSessionConfig()
	sessionConfig.Voice = cfg.Voice
	sessionConfig.Instructions = cfg.Instructions
	sessionConfig.InputAudioTranscription.Model = cfg.TranscriptionModel

	dialer := upstream.NewRealtimeDialer(cfg.UpstreamURL, cfg.UpstreamAPIKey,
		upstream.WithModel(cfg.Model),
		upstream.WithSessionConfig(sessionConfig))
	registry := relay.NewRegistry(dialer, relay.WithBridgeOptions(
		relay.WithGreeting(cfg.Greeting),
		relay.WithGracePeriod(cfg.GracePeriod)))

	schemas, err := wire.SchemasJSON()
	if err != nil {
		log.Fatalf("Failed to build message schemas: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, otelhttp.NewHandler(registry, "relay session"))
	mux.HandleFunc(path.Join(cfg.Path, "schema"), func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/schema+json")
		_, _ = w.Write(schemas)
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if err := registry.Close(); err != nil {
			logger.Warn("Some sessions did not close cleanly", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracePeriod)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down http server", "error", err)
		}
	}()

	logger.Info("Relay listening", "address", cfg.ListenAddress, "path", cfg.Path)
	log.Printf("Relay listening on %s%s", cfg.ListenAddress, cfg.Path)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Relay server failed: %v", err)
	}
}
