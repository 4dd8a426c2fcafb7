package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vault_ledger/internal/admin"
	"vault_ledger/internal/api"
	"vault_ledger/internal/config"
	"vault_ledger/internal/conversion"
	"vault_ledger/internal/custody"
	"vault_ledger/internal/domain"
	"vault_ledger/internal/ledger"
	"vault_ledger/internal/oracle"
	"vault_ledger/internal/repository/memory"
	"vault_ledger/internal/service"
	"vault_ledger/pkg/crypto"
	"vault_ledger/pkg/metrics"
	"vault_ledger/pkg/units"

	"github.com/spf13/cobra"
)

const (
	appName = "vaultd"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           appName,
		Short:         "USD-denominated vault ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional config file (yaml, json or toml)")
	root.AddCommand(serveCmd(), convertCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <unit-value>",
		Short: "Convert a value in USD base units to native base units at the current price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			unitValue, err := units.ParseInteger(args[0])
			if err != nil {
				return err
			}

			logger := setupLogger(cfg)
			source, _, closeSource, err := setupPriceSource(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeSource()

			converter := conversion.NewConverter(nil, oracle.NewGateway(source, logger), cfg.ReferenceAssetAddress(),
				conversion.WithLogger(logger))
			amount, err := converter.ToNativeAmount(cmd.Context(), unitValue)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s USD = %s (%s native base units)\n",
				units.Format(unitValue, domain.ReferenceDecimals),
				units.Format(amount, domain.NativeDecimals),
				amount.String())
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := setupLogger(cfg)
	logger.Info("Starting application",
		slog.String("name", appName),
		slog.String("oracle_mode", cfg.OracleMode))

	metricsCollector := metrics.NewMetricsCollector(logger)

	registry := admin.NewRegistry(memory.NewAssetRepository(), cfg.Admins(), logger)
	if err := registry.Seed(ctx, domain.NativeAsset, domain.NativeDecimals); err != nil {
		return err
	}
	if err := registry.Seed(ctx, cfg.ReferenceAssetAddress(), domain.ReferenceDecimals); err != nil {
		return err
	}

	source, manualFeed, closeSource, err := setupPriceSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	gateway := oracle.NewGateway(source, logger)
	converterOpts := []conversion.Option{conversion.WithLogger(logger)}
	if cfg.StrictPegging {
		converterOpts = append(converterOpts, conversion.WithStrictPegging(cfg.Pegged()...))
	}
	converter := conversion.NewConverter(registry, gateway, cfg.ReferenceAssetAddress(), converterOpts...)

	limits, err := cfg.BankLimits()
	if err != nil {
		return err
	}
	pool := custody.NewMemoryPool(logger)
	l, err := ledger.New(limits, memory.NewVaultRepository(), converter, pool,
		ledger.WithLogger(logger),
		ledger.WithRecorder(metricsCollector))
	if err != nil {
		return err
	}

	journal := memory.NewEventRepository()
	dispatcher, closeSinks, err := setupEventDispatcher(ctx, cfg, journal, metricsCollector, logger)
	if err != nil {
		return err
	}
	defer closeSinks()
	dispatcher.Attach(l)

	apiOpts := []api.Option{api.WithFunder(pool)}
	monitor := oracle.NewMonitor(gateway, metricsCollector, logger)
	if manualFeed != nil {
		if err := monitor.KeepFresh(cfg.OracleManualRefresh, manualFeed); err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithPriceSetter(manualFeed))
	}
	if err := monitor.Start(cfg.OracleMonitorSchedule); err != nil {
		return err
	}

	signer := crypto.NewSigner(cfg.AdminSecret, logger)
	apiHandler := api.NewAPIHandler(l, registry, journal, signer, logger, apiOpts...)
	metricsServer := metricsCollector.StartMetricsServer(cfg.MetricsAddr)
	httpServer := startHTTPServer(cfg.HTTPAddr, apiHandler, logger)
	waitForShutdown(logger, httpServer, metricsServer, monitor, dispatcher, metricsCollector)
	logger.Info("Application shutdown complete")
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// setupPriceSource returns the configured feed. The manual feed is also
// returned on its own so it can be refreshed and updated by admins.
func setupPriceSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (oracle.PriceSource, *oracle.ManualFeed, func(), error) {
	if cfg.OracleMode != config.OracleModeChainlink {
		price, err := cfg.ManualPrice()
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Warn("Using manual price feed", slog.String("price", cfg.OracleManualPrice))
		feed := oracle.NewManualFeed(price)
		return feed, feed, func() {}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	feed, client, err := oracle.DialChainlinkFeed(dialCtx, cfg.EthRPCURL, cfg.PriceFeed())
	if err != nil {
		return nil, nil, nil, err
	}
	if err := feed.VerifyDecimals(dialCtx); err != nil {
		client.Close()
		return nil, nil, nil, err
	}
	logger.Info("Connected to price feed", slog.String("address", cfg.PriceFeed().Hex()))
	return feed, nil, client.Close, nil
}

func setupEventDispatcher(
	ctx context.Context,
	cfg *config.Config,
	journal *memory.EventRepository,
	recorder service.DispatchRecorder,
	logger *slog.Logger,
) (*service.EventDispatcher, func(), error) {
	sinks := []service.EventSink{
		service.NewJournalSink(journal),
		service.NewLogSink(logger),
	}

	closeSinks := func() {}
	if cfg.RedisAddr != "" {
		rdb, err := service.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		closeSinks = func() {
			if err := rdb.Close(); err != nil {
				logger.Error("Redis close failed", slog.String("error", err.Error()))
			}
		}
		sinks = append(sinks, service.NewRedisStreamSink(rdb, cfg.EventStream, cfg.EventStreamMaxLen))
		logger.Info("Publishing ledger events to redis",
			slog.String("addr", cfg.RedisAddr),
			slog.String("stream", cfg.EventStream))
	}

	return service.NewEventDispatcher(sinks, cfg.EventWorkers, recorder, logger), closeSinks, nil
}

func startHTTPServer(addr string, apiHandler *api.APIHandler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	apiHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": "%s", "status": "ok"}`, appName)
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(
	logger *slog.Logger,
	httpServer *http.Server,
	metricsServer *http.Server,
	monitor *oracle.Monitor,
	dispatcher *service.EventDispatcher,
	metricsCollector *metrics.MetricsCollector,
) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}

	monitor.Stop(ctx)

	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Error("Event dispatcher shutdown failed", slog.String("error", err.Error()))
	}

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}
	if err := metricsCollector.Shutdown(ctx); err != nil {
		logger.Error("Metrics collector shutdown failed", slog.String("error", err.Error()))
	}
}
