package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/chainforge/deployctl/internal/audit"
	"github.com/chainforge/deployctl/internal/config"
	"github.com/chainforge/deployctl/internal/evm"
	"github.com/chainforge/deployctl/internal/httpapi"
	"github.com/chainforge/deployctl/internal/queue"
	"github.com/chainforge/deployctl/internal/solana"
	"github.com/chainforge/deployctl/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "deployctl",
	Short: "deployctl publishes compiled smart-contract artifacts to Solana and EVM backends",
	Long: `deployctl is a multi-tenant deployment service. It accepts compiled
program artifacts over HTTP, schedules them across a bounded pool of
worker threads, and drives each deployment through a chain-specific
protocol while producing a durable per-deployment audit log.

Environment variables (DEPLOYCTL_ prefix, nested with underscores):
  DEPLOYCTL_SERVER_ADDR, DEPLOYCTL_QUEUE_WORKER_POOL_SIZE,
  DEPLOYCTL_SOLANA_RPC_URL, DEPLOYCTL_EVM_RPC_URL, DEPLOYCTL_AUDIT_LOG_DIR`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("deployctl v0.1.0")
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deployment service's HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	auditStore, err := audit.NewStore(cfg.Audit.LogDir)
	if err != nil {
		return fmt.Errorf("init audit store: %w", err)
	}

	if cfg.Audit.RedisAddr != "" {
		dedup, err := audit.NewRedisDedup(audit.RedisDedupConfig{
			Addr:     cfg.Audit.RedisAddr,
			Password: cfg.Audit.RedisPassword,
			DB:       cfg.Audit.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("init audit redis dedup: %w", err)
		}
		auditStore = auditStore.WithRedisDedup(dedup)
	}

	metrics := worker.NewMetrics(prometheus.DefaultRegisterer)

	solanaDeployer := solana.NewDeployer(solana.Config{
		RPCURL:             cfg.Solana.RPCURL,
		PayerKeypairPath:   cfg.Solana.PayerKeypairPath,
		ProgramKeypairPath: cfg.Solana.ProgramKeypairPath,
		ComputeUnitLimit:   cfg.Solana.ComputeUnitLimit,
		ComputeUnitPrice:   cfg.Solana.ComputeUnitPrice,
	}, auditStore)

	evmDeployer := evm.NewDeployer(evm.Config{
		RPCURL:        cfg.EVM.RPCURL,
		WalletKeyPath: cfg.EVM.WalletKeyPath,
		ExpectedChain: cfg.EVM.ExpectedChainID(),
		GasLimit:      cfg.EVM.GasLimit,
	}, auditStore)

	var manager *queue.Manager

	pool := worker.New(worker.Config{
		Size:      cfg.Queue.WorkerPoolSize,
		QueueSize: cfg.Queue.DispatchSize,
		Deployers: []worker.Deployer{solanaDeployer, evmDeployer},
		Metrics:   metrics,
		Logger:    logger,
		AuditLog:  auditStore,
		OnComplete: func(id uuid.UUID) {
			_ = auditStore.SetStatus(id, "completed")
			manager.MarkComplete(id)
		},
		OnFailed: func(id uuid.UUID, reason string) {
			_ = auditStore.SetStatus(id, "failed")
			manager.MarkFailed(id, reason)
		},
	})
	defer pool.Shutdown()

	manager, err = queue.NewManager(queue.Config{
		MaxPending: cfg.Queue.MaxPending,
		MaxActive:  cfg.Queue.MaxActive,
	}, pool, logger)
	if err != nil {
		return fmt.Errorf("init queue manager: %w", err)
	}
	defer manager.Shutdown()

	h := httpapi.New(manager, auditStore)

	logger.Info("deployctl listening", slog.String("addr", cfg.Server.Addr))
	return http.ListenAndServe(cfg.Server.Addr, h.Routes())
}
