// Command dashkit runs the dashboard gateway: session cookie auth, the
// streaming proxy and the /good/api/ rewrite to the platform.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marrasen/dashkit/gateway"
	"github.com/marrasen/dashkit/internal/config"
	"github.com/marrasen/dashkit/platform"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	api := platform.New(cfg.APIHost, cfg.AppID,
		platform.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}))
	gw := gateway.New(api, gateway.Options{
		StreamHost: cfg.StreamHost,
		CookieName: cfg.SessionCookie,
		SessionTTL: cfg.CookieTTL(),
		Secure:     cfg.Production(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	fmt.Printf("Gateway starting on %s\n", cfg.ListenAddr)
	fmt.Printf("Platform API: %s (stream: %s)\n", cfg.APIHost, cfg.StreamHost)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}
