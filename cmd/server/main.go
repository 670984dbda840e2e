package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bazaar/cmd/server/config"
	"bazaar/internal/adapters/grpc"
	"bazaar/internal/app"
	"bazaar/internal/auth"
	marketdb "bazaar/internal/db/market"
	"bazaar/internal/logging"
	"bazaar/internal/observability"
	"bazaar/internal/orders"
	"bazaar/internal/realtime"
	"bazaar/internal/refunds"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var Version = "dev"

var publicMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/List",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	var demo bool

	root := &cobra.Command{
		Use:          "bazaar",
		Short:        "Marketplace order, payment and refund service",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), demo)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	root.Flags().BoolVar(&demo, "demo", false, "seed demo products into in-memory stores")

	root.AddCommand(serveCmd(), initSchemaCmd(), tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	var demo bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC marketplace service and the HTTP side server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), demo)
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "seed demo products into in-memory stores")
	return cmd
}

func initSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-schema",
		Short: "Create the Postgres tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitSchema(cmd.Context())
		},
	}
}

func tokenCmd() *cobra.Command {
	var service bool
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue a bearer token for a user (requires JWT_SECRET)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAuth()
			if err != nil {
				return err
			}
			if cfg.Secret == "" {
				return errors.New("JWT_SECRET is required")
			}
			issuer := auth.NewIssuer(cfg.Secret, cfg.TokenTTL)
			issue := issuer.GenerateToken
			if service {
				issue = issuer.GenerateServiceToken
			}
			token, err := issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&service, "service", false, "issue a service token for internal callers such as the payment gateway")
	return cmd
}

func loadEnv(file string) error {
	if file == "" {
		return nil
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

var openSchemaDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

func runInitSchema(ctx context.Context) error {
	pg := config.LoadPostgres()
	if pg.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := openSchemaDB("pgx", pg.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return marketdb.InitSchema(setupCtx, db)
}

func runServe(ctx context.Context, demo bool) error {
	logCfg := config.LoadLog()
	logger, err := logging.New(logCfg.Level, logCfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sagaCfg, err := config.LoadSaga()
	if err != nil {
		return err
	}
	authCfg, err := config.LoadAuth()
	if err != nil {
		return err
	}
	grpcCfg, err := config.LoadGRPC()
	if err != nil {
		return err
	}
	notifyCfg, err := orders.LoadReliabilityConfig("NOTIFY")
	if err != nil {
		return err
	}
	cartCfg, err := orders.LoadReliabilityConfig("CART")
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	hub := realtime.NewHub(logger.Named("realtime"))
	go hub.Run(ctx)

	sinks, closeSinks := buildSinks(logger, hub)
	defer closeSinks()

	cartStore, closeCart, err := buildCartStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeCart()

	notifyControls := notifyCfg.Controls()
	cartControls := cartCfg.Controls()
	services, cleanup := app.BuildServices(ctx, app.Options{
		DatabaseURL:    config.LoadPostgres().URL,
		Cart:           cartStore,
		Sinks:          sinks,
		NotifyControls: &notifyControls,
		CartControls:   &cartControls,
		PaymentTTL:     sagaCfg.PaymentTTL,
		Refunds: refunds.Config{
			Delay:       sagaCfg.RefundDelay,
			SuccessRate: sagaCfg.RefundSuccessRate,
		},
		ReturnWindow: sagaCfg.ReturnWindow,
		Metrics:      metrics,
		Logger:       logger,
	})
	defer cleanup()
	logger.Info("marketplace services ready", zap.String("backend", string(services.Backend)))

	if demo {
		if err := app.SeedDemo(ctx, services); err != nil {
			return err
		}
		logger.Info("demo data seeded", zap.String("buyer", app.DemoBuyer), zap.String("seller", app.DemoSeller))
	}

	limiter := newGrpcRateLimiter(grpcCfg.RateLimitInterval, grpcCfg.RateLimitBurst, metrics.AddRateLimitWait)
	unary := []grpcpkg.UnaryServerInterceptor{rateLimitUnaryInterceptor(limiter, metrics, logger)}

	authenticate := realtime.Authenticator(func(r *http.Request) (string, error) {
		return r.URL.Query().Get("user"), nil
	})
	if authCfg.Secret != "" {
		issuer := auth.NewIssuer(authCfg.Secret, authCfg.TokenTTL)
		unary = append(unary, auth.UnaryServerInterceptor(issuer, publicMethods...))
		authenticate = issuer.Authenticate
	} else {
		logger.Warn("JWT_SECRET not set, callers identify themselves with userId")
	}

	server := grpcpkg.NewServer(
		grpcpkg.ChainUnaryInterceptor(unary...),
		grpcpkg.StreamInterceptor(rateLimitStreamInterceptor(limiter, metrics, logger)),
	)
	grpc.Register(server, grpc.NewMarketplaceServer(services.Orders, services.Payments, services.Returns))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(grpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if logCfg.Env != "production" {
		reflection.Register(server)
		logger.Info("gRPC reflection enabled", zap.String("app_env", logCfg.Env))
	}

	lis, err := net.Listen("tcp", grpcCfg.Addr)
	if err != nil {
		return err
	}
	logger.Info("gRPC server listening", zap.String("addr", grpcCfg.Addr))

	obsSrv, err := startObservabilityServer(metrics, realtime.NewHandler(hub, authenticate), logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		healthServer.SetServingStatus(grpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		server.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = obsSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func startObservabilityServer(metrics *observability.Metrics, ws http.Handler, logger *zap.Logger) (*http.Server, error) {
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}
	router := observability.NewRouter(metrics, func(r chi.Router) {
		r.Method(http.MethodGet, "/ws", ws)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("observability server error", zap.Error(err))
		}
	}()
	logger.Info("http server listening", zap.String("addr", cfg.Addr))

	return srv, nil
}
