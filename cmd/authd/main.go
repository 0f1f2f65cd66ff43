package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furchert/authd/internal/common/config"
	"github.com/furchert/authd/internal/grant"
	"github.com/furchert/authd/internal/record"
	"github.com/furchert/authd/internal/registry"
	"github.com/furchert/authd/internal/server"
	"github.com/furchert/authd/internal/signer"
	"github.com/furchert/authd/internal/token"
	"github.com/furchert/authd/internal/userdir"
	"github.com/furchert/authd/pkg/logger"
	"github.com/furchert/authd/pkg/metrics"
	"github.com/furchert/authd/pkg/version"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of authd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("authd version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "authd",
		Short: "Token issuance and lifecycle engine",
		Long:  `authd issues, refreshes, validates and revokes OAuth2 tokens for registered clients`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "authd.yaml", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("failed to load configuration from %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting authd",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath),
		zap.String("storage", cfg.Storage.Type))

	store, err := record.NewStore(log, &cfg.Storage)
	if err != nil {
		log.Fatal("failed to initialize record store", zap.Error(err))
	}
	defer store.Close()

	reg := registry.New(log, store)
	if err := reg.Seed(context.Background(), seedClients(cfg.Clients)); err != nil {
		log.Fatal("failed to seed clients", zap.Error(err))
	}

	sgn, err := signer.New(cfg.Signer)
	if err != nil {
		log.Fatal("failed to initialize signer", zap.Error(err))
	}

	m := metrics.New("authd")
	svc := token.NewService(log, store, reg, grant.New(log, reg, store), sgn, m, cfg.Signer)
	users := userdir.New(log, cfg.UserDirectory)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	server.NewServer(log, svc, users, m, cfg.Signer.Issuer).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go runJanitor(janitorCtx, log, store, cfg.Storage.Retention)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	stopJanitor()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown server", zap.Error(err))
	}
}

// runJanitor purges authorization records whose retention window has
// elapsed. Backends with native expiry report zero purges.
func runJanitor(ctx context.Context, log *zap.Logger, store record.Store, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.PurgeExpired(ctx, time.Now(), retention)
			if err != nil {
				log.Error("failed to purge expired records", zap.Error(err))
				continue
			}
			if purged > 0 {
				log.Info("purged expired records", zap.Int("count", purged))
			}
		}
	}
}

func seedClients(seeds []config.SeedClient) []*record.Client {
	clients := make([]*record.Client, 0, len(seeds))
	for _, s := range seeds {
		clients = append(clients, &record.Client{
			ClientID:      s.ClientID,
			SecretHash:    s.SecretHash,
			GrantTypes:    s.GrantTypes,
			RedirectURIs:  s.RedirectURIs,
			AllowedScopes: s.AllowedScopes,
		})
	}
	return clients
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
