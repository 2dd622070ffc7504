// Command runed is the node daemon: it serves the HTTPS control plane and
// WS data plane, announces itself over multicast discovery, and drives
// the sync scheduler against trusted peers, per spec.md §9. Grounded on
// services/api/cmd/main.go's env-configured, signal.NotifyContext-driven
// wiring, restructured around internal/supervisor's suture tree in place
// of that file's flat goroutine/defer shutdown.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/runic-labs/rune/internal/authz"
	"github.com/runic-labs/rune/internal/bus"
	"github.com/runic-labs/rune/internal/catalog"
	"github.com/runic-labs/rune/internal/config"
	"github.com/runic-labs/rune/internal/discovery"
	"github.com/runic-labs/rune/internal/fsx"
	"github.com/runic-labs/rune/internal/logging"
	"github.com/runic-labs/rune/internal/metrics"
	"github.com/runic-labs/rune/internal/recommend"
	"github.com/runic-labs/rune/internal/supervisor"
	"github.com/runic-labs/rune/internal/syncengine"
	"github.com/runic-labs/rune/internal/transport"
	"github.com/runic-labs/rune/internal/trust"
	"github.com/runic-labs/rune/internal/vectorindex"
)

var flagConfigPath string

var rootCmd = &cobra.Command{
	Use:   "runed",
	Short: "Run a rune library node: serve peers, discover peers, and sync",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfigPath, "config", "rune.yaml", "Path to the node's YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("runed: load config: %w", err)
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("runed: create data dir: %w", err)
	}

	identity, err := loadOrCreateIdentity(cfg.DataDir, cfg.NodeAlias)
	if err != nil {
		return fmt.Errorf("runed: load identity: %w", err)
	}
	log.Info().Str("fingerprint", identity.Fingerprint).Msg("runed: identity ready")

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.Join(cfg.DataDir, "catalog.db"))
	store, err := catalog.Connect(cmd.Context(), dsn)
	if err != nil {
		return fmt.Errorf("runed: connect catalog: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("runed: migrate catalog: %w", err)
	}

	libFS, err := fsx.NewScopedFS(cfg.LibraryRoot)
	if err != nil {
		return fmt.Errorf("runed: scope library root: %w", err)
	}
	cacheDir := filepath.Join(cfg.DataDir, "cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("runed: create cache dir: %w", err)
	}
	cacheFS, err := fsx.NewScopedFS(cacheDir)
	if err != nil {
		return fmt.Errorf("runed: scope cache dir: %w", err)
	}

	index, err := vectorindex.Open(filepath.Join(cfg.DataDir, "vectors"))
	if err != nil {
		return fmt.Errorf("runed: open vector index: %w", err)
	}
	defer index.Close()
	engine := recommend.New(index)

	b := bus.New(log)
	defer b.Close()

	trustStore, err := trust.Open(filepath.Join(cfg.DataDir, ".known-clients"), b, log)
	if err != nil {
		return fmt.Errorf("runed: open trust store: %w", err)
	}
	defer trustStore.Close()

	enforcer, err := authz.New()
	if err != nil {
		return fmt.Errorf("runed: build authorizer: %w", err)
	}

	m := metrics.New()

	sources, err := catalog.Sources(store)
	if err != nil {
		return fmt.Errorf("runed: build sync sources: %w", err)
	}
	scheduler := syncengine.NewScheduler(sources, store, log)

	srv := transport.NewServer(transport.Config{
		Identity: transport.DeviceInfo{
			Alias:       cfg.NodeAlias,
			Version:     "1",
			DeviceModel: "rune-node",
			DeviceType:  "Desktop",
			Fingerprint: identity.Fingerprint,
		},
		Trust:       trustStore,
		Authz:       enforcer,
		LibraryFS:   libFS,
		CacheFS:     cacheFS,
		Metrics:     m,
		Certificate: identity,
		Log:         log,
	})
	srv.SetSyncHandler(transport.NewSyncRequestHandler(identity.Fingerprint, sources, store))

	tree, err := supervisor.NewSupervisorTree(log, supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("runed: build supervisor tree: %w", err)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: srv.Router(),
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{{
				Certificate: [][]byte{identity.CertDER},
				PrivateKey:  identity.PrivateKey,
				Leaf:        identity.Certificate,
			}},
		},
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(supervisor.NewFuncService("https-control-plane", func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutCtx)
		}()
		if err := httpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}))

	if cfg.DiscoveryEnabled {
		svc, err := discovery.New(discovery.Identity{
			Alias:       cfg.NodeAlias,
			Version:     "1",
			DeviceModel: "rune-node",
			DeviceType:  discovery.DeviceDesktop,
			Fingerprint: identity.Fingerprint,
			APIPort:     cfg.HTTPPort,
			Protocol:    "https",
			Download:    true,
		}, log, func(d discovery.DiscoveredDevice) {
			log.Info().Str("alias", d.Alias).Str("fingerprint", d.Fingerprint).Msg("runed: peer discovered")
		})
		if err != nil {
			log.Warn().Err(err).Msg("runed: discovery disabled, no multicast socket available")
		} else {
			defer svc.Close()
			tree.AddMessagingService(supervisor.NewFuncService("discovery", func(ctx context.Context) error {
				return svc.Run(ctx, 5*time.Second)
			}))
		}
	}

	tree.AddMessagingService(supervisor.NewFuncService("sync-scheduler", func(ctx context.Context) error {
		return runSyncLoop(ctx, scheduler, srv, cfg.SyncInterval, log)
	}))

	tree.AddDataService(supervisor.NewFuncService("vector-index-maintenance", func(ctx context.Context) error {
		return runIndexMaintenance(ctx, index, engine, log)
	}))

	log.Info().Int("port", cfg.HTTPPort).Msg("runed: starting supervisor tree")
	return tree.Serve(cmd.Context())
}
