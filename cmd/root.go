package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tenderwatch/tendersync/internal/config"
	"github.com/tenderwatch/tendersync/internal/remote"
	"github.com/tenderwatch/tendersync/internal/resilience"
	"github.com/tenderwatch/tendersync/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tendersync",
	Short: "Incremental mirror of the procurement registry",
	Long:  "Keeps a local JSON-Lines mirror of the procurement registry in sync using count-based drift detection, with deduplication and crash-safe merges.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore builds the tender store, honoring a --store flag override.
func openStore(cmd *cobra.Command) *store.Store {
	path := cfg.Store.Path
	if override, _ := cmd.Flags().GetString("store"); override != "" {
		path = override
	}
	return store.New(path, store.Options{
		LockTimeout: time.Duration(cfg.Store.LockTimeoutSecs) * time.Second,
	})
}

// newReader builds the registry gateway client from config.
func newReader() remote.Reader {
	return remote.NewClient(remote.ClientOptions{
		BaseURL:   cfg.Remote.BaseURL,
		UserAgent: cfg.Remote.UserAgent,
		Timeout:   time.Duration(cfg.Remote.TimeoutSecs) * time.Second,
		RateLimit: cfg.Remote.RateLimit,
		PageSize:  cfg.Remote.PageSize,
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Remote.MaxRetries,
			OnRetry:     resilience.RetryLogger("remote", "get"),
		},
	})
}

// parseDateFlag reads an optional YYYY-MM-DD flag.
func parseDateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse --%s %q", name, s)
	}
	return t, nil
}
