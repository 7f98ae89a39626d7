package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/elevationmap/internal/engine"
	"github.com/MeKo-Tech/elevationmap/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the elevation query API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("sources", "", "Source catalog file (YAML or JSON)")
	serveCmd.Flags().String("redis-url", "", "Rate-limiter backing store URL (redis://...)")
	serveCmd.Flags().String("rate-limit-mode", "strict", "Limiter fallback mode: strict, degraded or local")
	serveCmd.Flags().String("provider-cache", "", "SQLite file caching HTTP provider responses")
	serveCmd.Flags().Duration("query-deadline", 30*time.Second, "Per-request deadline")
	serveCmd.Flags().Duration("provider-cooloff", 5*time.Minute, "Skip window for rate-limited providers")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
	mustBind("serve.addr", "addr")
	mustBind("serve.sources", "sources")
	mustBind("serve.redis_url", "redis-url")
	mustBind("serve.rate_limit_mode", "rate-limit-mode")
	mustBind("serve.provider_cache", "provider-cache")
	mustBind("serve.query_deadline", "query-deadline")
	mustBind("serve.provider_cooloff", "provider-cooloff")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Config{
		IndexPath:         viper.GetString("index"),
		CatalogPath:       viper.GetString("serve.sources"),
		Store:             store,
		RedisURL:          viper.GetString("serve.redis_url"),
		RateLimitMode:     viper.GetString("serve.rate_limit_mode"),
		ProviderCachePath: viper.GetString("serve.provider_cache"),
		QueryDeadline:     viper.GetDuration("serve.query_deadline"),
		ProviderCoolOff:   viper.GetDuration("serve.provider_cooloff"),
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	addr := viper.GetString("serve.addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(eng, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("elevation server listening",
		"addr", addr,
		"index", viper.GetString("index"),
		"tiles", eng.Index.TotalTileCount,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
}
