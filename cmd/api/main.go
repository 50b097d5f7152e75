package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/punchamoorthee/quorumvault/internal/api"
	"github.com/punchamoorthee/quorumvault/internal/config"
	"github.com/punchamoorthee/quorumvault/internal/domain"
	"github.com/punchamoorthee/quorumvault/internal/metrics"
	"github.com/punchamoorthee/quorumvault/internal/store"
	"github.com/punchamoorthee/quorumvault/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// Initialize Layers
	var (
		ledger vault.AssetLedger
		access vault.AccessRegistry
	)
	if cfg.DBSource == "" {
		logger.Warn("DB_SOURCE not set, using in-memory ledger and access registry")
		ledger, access = store.NewMemoryLedger(), store.NewMemoryRegistry()
	} else {
		st, err := store.NewStore(cfg.DBSource)
		if err != nil {
			logger.Fatal("unable to connect to database", zap.Error(err))
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			logger.Fatal("unable to migrate database", zap.Error(err))
		}
		ledger, access = st.Ledger(), st.Registry()
	}

	if err := bootstrap(ctx, access, cfg); err != nil {
		logger.Fatal("unable to bootstrap roles", zap.Error(err))
	}

	v := vault.New(ledger, access,
		vault.WithLogger(logger.Named("vault")),
		vault.WithSettings(domain.Settings{
			RequiredApproveVotes: cfg.RequiredApproveVotes,
			WithdrawalDelay:      cfg.WithdrawalDelay,
		}),
	)
	metrics.NewEventCollector(prometheus.DefaultRegisterer).Attach(v)

	handler := api.NewHandler(v, logger.Named("api"))
	router := handlers.RecoveryHandler(handlers.PrintRecoveryStack(!cfg.IsProduction()))(
		handlers.CombinedLoggingHandler(os.Stdout, api.NewRouter(handler)),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var g run.Group
	{
		g.Add(func() error {
			logger.Info("server starting", zap.String("port", cfg.Port),
				zap.Uint64("required_approve_votes", cfg.RequiredApproveVotes),
				zap.Duration("withdrawal_delay", cfg.WithdrawalDelay))
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
	}
	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}

	if err := g.Run(); err != nil {
		if _, ok := err.(run.SignalError); ok {
			logger.Info("server stopped", zap.Error(err))
			return
		}
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// bootstrap grants the configured roles before the vault starts, since role
// changes through the vault itself need an existing administrator.
func bootstrap(ctx context.Context, access vault.AccessRegistry, cfg *config.Config) error {
	for _, p := range cfg.BootstrapAdmins {
		if _, err := access.Grant(ctx, domain.Principal(p), domain.RoleAdministrator); err != nil {
			return err
		}
	}
	for _, p := range cfg.BootstrapVoters {
		if _, err := access.Grant(ctx, domain.Principal(p), domain.RoleVoter); err != nil {
			return err
		}
	}
	return nil
}
