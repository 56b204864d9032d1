package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	creditsv1 "github.com/MarkoPoloResearchLab/videocredits/api/credits/v1"
	"github.com/MarkoPoloResearchLab/videocredits/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/videocredits/internal/oplog"
	"github.com/MarkoPoloResearchLab/videocredits/internal/refundqueue"
	"github.com/MarkoPoloResearchLab/videocredits/internal/servicetoken"
	"github.com/MarkoPoloResearchLab/videocredits/pkg/ledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	flagDatabaseURL        = "database-url"
	flagListenAddr         = "listen-addr"
	flagStoreDriver        = "store-driver"
	flagVerifyConsistency  = "verify-consistency"
	flagServiceTokenKey    = "service-token-key"
	flagServiceTokenIssuer = "service-token-issuer"
	flagRefundWorkers      = "refund-workers"
	envPrefix              = "CREDITD"

	defaultDatabaseURL        = "sqlite:///tmp/videocredits.db"
	defaultGRPCListenAddr     = ":7000"
	defaultServiceTokenIssuer = "videocredits"
	defaultRefundWorkers      = 4

	storeDriverGORM = "gorm"
	storeDriverPGX  = "pgx"
)

type runtimeConfig struct {
	DatabaseURL        string
	ListenAddr         string
	StoreDriver        string
	VerifyConsistency  bool
	ServiceTokenKey    string
	ServiceTokenIssuer string
	RefundWorkers      int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditd",
		Short:         "Video credits ledger gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or SQLite path")
	cmd.PersistentFlags().String(flagStoreDriver, storeDriverGORM, "ledger store implementation: gorm or pgx (pgx requires PostgreSQL)")
	cmd.Flags().String(flagListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	cmd.Flags().Bool(flagVerifyConsistency, true, "verify balance against the transaction log inside every mutation")
	cmd.Flags().String(flagServiceTokenKey, "", "HS256 key for service tokens; empty disables authentication")
	cmd.Flags().String(flagServiceTokenIssuer, defaultServiceTokenIssuer, "expected service token issuer")
	cmd.Flags().Int(flagRefundWorkers, defaultRefundWorkers, "refund queue workers (PostgreSQL only, 0 disables processing)")

	cmd.AddCommand(newMigrateCommand(cfg), newVerifyCommand(cfg))
	return cmd
}

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema and backfill job ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cfg)
		},
	}
}

func newVerifyCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "verify ACCOUNT_ID...",
		Short: "Check that each account balance equals the sum of its transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), cfg, args)
		},
	}
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString(flagStoreDriver)))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = storeDriverGORM
	}
	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultGRPCListenAddr
	}
	cfg.VerifyConsistency = true
	if v.IsSet(flagVerifyConsistency) {
		cfg.VerifyConsistency = v.GetBool(flagVerifyConsistency)
	}
	cfg.ServiceTokenKey = v.GetString(flagServiceTokenKey)
	cfg.ServiceTokenIssuer = strings.TrimSpace(v.GetString(flagServiceTokenIssuer))
	if cfg.ServiceTokenIssuer == "" {
		cfg.ServiceTokenIssuer = defaultServiceTokenIssuer
	}
	cfg.RefundWorkers = defaultRefundWorkers
	if v.IsSet(flagRefundWorkers) {
		cfg.RefundWorkers = v.GetInt(flagRefundWorkers)
	}

	if cfg.StoreDriver != storeDriverGORM && cfg.StoreDriver != storeDriverPGX {
		return fmt.Errorf("%s must be %q or %q", flagStoreDriver, storeDriverGORM, storeDriverPGX)
	}
	if cfg.RefundWorkers < 0 {
		return fmt.Errorf("%s must not be negative", flagRefundWorkers)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer backend.Close()

	if err := backend.prepareEmbeddedSchema(ctx); err != nil {
		return err
	}

	creditService, err := newLedgerService(backend, cfg, logger)
	if err != nil {
		return err
	}

	serverOptions := []grpc.ServerOption{}
	if cfg.ServiceTokenKey != "" {
		verifier, err := servicetoken.NewVerifier(servicetoken.Config{SigningKey: []byte(cfg.ServiceTokenKey), Issuer: cfg.ServiceTokenIssuer}, nil)
		if err != nil {
			return fmt.Errorf("service token verifier: %w", err)
		}
		serverOptions = append(serverOptions, grpc.UnaryInterceptor(verifier.UnaryServerInterceptor()))
	} else {
		logger.Warn("service token authentication disabled")
	}

	creditServerOptions := []grpcserver.ServerOption{}
	if backend.pool != nil {
		queue, err := refundqueue.New(backend.pool, creditService, refundqueue.Config{MaxWorkers: cfg.RefundWorkers}, logger)
		if err != nil {
			return err
		}
		if err := queue.Start(ctx); err != nil {
			return fmt.Errorf("refund queue start: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if stopErr := queue.Stop(stopCtx); stopErr != nil {
				logger.Warn("refund queue stop", zap.Error(stopErr))
			}
		}()
		creditServerOptions = append(creditServerOptions, grpcserver.WithRefundEnqueuer(queue))
		logger.Info("refund queue enabled", zap.Int("workers", cfg.RefundWorkers))
	} else if cfg.RefundWorkers > 0 {
		logger.Warn("refund queue requires PostgreSQL; async refunds disabled")
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer(serverOptions...)
	creditsv1.RegisterCreditServiceServer(grpcServer, grpcserver.NewCreditServiceServer(creditService, creditServerOptions...))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting",
			zap.String("listen_addr", cfg.ListenAddr),
			zap.String("database_driver", backend.driver),
			zap.String("store_driver", cfg.StoreDriver),
			zap.Bool("verify_consistency", cfg.VerifyConsistency))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

func runMigrate(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer backend.Close()

	backfilled, err := backend.migrate(ctx)
	if err != nil {
		return err
	}
	logger.Info("ledger schema ready", zap.String("database_driver", backend.driver), zap.Int("backfilled_job_ids", backfilled))

	if backend.pool != nil {
		if err := refundqueue.Migrate(ctx, backend.pool); err != nil {
			return err
		}
		logger.Info("refund queue schema ready")
	}
	return nil
}

func runVerify(ctx context.Context, cfg *runtimeConfig, rawAccountIDs []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer backend.Close()

	creditService, err := newLedgerService(backend, cfg, logger)
	if err != nil {
		return err
	}
	return verifyAccounts(ctx, creditService, rawAccountIDs)
}

// verifyAccounts checks every account and reports how many failed.
func verifyAccounts(ctx context.Context, creditService *ledger.Service, rawAccountIDs []string) error {
	failed := 0
	for _, rawAccountID := range rawAccountIDs {
		accountID, err := ledger.NewAccountID(rawAccountID)
		if err == nil {
			_, err = creditService.VerifyAccount(ctx, accountID)
		}
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed verification", failed, len(rawAccountIDs))
	}
	return nil
}

func newLedgerService(backend *ledgerBackend, cfg *runtimeConfig, logger *zap.Logger) (*ledger.Service, error) {
	options := []ledger.ServiceOption{ledger.WithOperationLogger(oplog.New(logger))}
	if cfg.VerifyConsistency {
		options = append(options, ledger.WithConsistencyCheck())
	}
	clock := func() time.Time { return time.Now().UTC() }
	creditService, err := ledger.NewService(backend.store, clock, options...)
	if err != nil {
		return nil, fmt.Errorf("credit service init: %w", err)
	}
	return creditService, nil
}
