package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rikapay/apps/gateway/internal/app"
	"rikapay/apps/gateway/internal/config"
	"rikapay/apps/gateway/internal/observability"
	"rikapay/apps/gateway/internal/service/orchestrator"
)

const (
	envHTTPReadHeaderTimeoutSeconds = "PAYROLLGW_HTTP_READ_HEADER_TIMEOUT_SECONDS"
	envHTTPReadTimeoutSeconds       = "PAYROLLGW_HTTP_READ_TIMEOUT_SECONDS"
	envHTTPWriteTimeoutSeconds      = "PAYROLLGW_HTTP_WRITE_TIMEOUT_SECONDS"
	envHTTPIdleTimeoutSeconds       = "PAYROLLGW_HTTP_IDLE_TIMEOUT_SECONDS"
	envHTTPShutdownTimeoutSeconds   = "PAYROLLGW_HTTP_SHUTDOWN_TIMEOUT_SECONDS"
)

var (
	defaultHTTPReadHeaderTimeout = 10 * time.Second
	defaultHTTPReadTimeout       = 120 * time.Second
	defaultHTTPWriteTimeout      = 0 * time.Second
	defaultHTTPIdleTimeout       = 120 * time.Second
	defaultHTTPShutdownTimeout   = 30 * time.Second
)

type httpRuntimeConfig struct {
	readHeaderTimeout time.Duration
	readTimeout       time.Duration
	writeTimeout      time.Duration
	idleTimeout       time.Duration
	shutdownTimeout   time.Duration
}

var (
	cfg    config.Config
	logger = zap.NewNop()

	employerAddress string
	sessionID       string
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Conversational gateway for the payroll contracts",
	Long: `gateway turns natural language requests into payroll API calls.

It resolves the intended operation, asks for whatever parameters are still
missing, and executes the call once the request is complete. It can also run
the scheduled payroll batch that processes due payments for every contract.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		l, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		observability.SetLogger(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and WebSocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [prompt]",
	Short: "Resolve a single prompt and print the response envelope",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveOnce(cmd, strings.Join(args, " "))
	},
}

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "List the payroll operations the gateway can call",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer c.Close()
		return printOperations(cmd, c)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&employerAddress, "employer", "", "employer address appended to the prompt")
	resolveCmd.Flags().StringVar(&sessionID, "session", "", "session id to continue")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(operationsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init components failed: %w", err)
	}
	defer c.Close()

	srv, err := app.NewServer(app.Options{
		APIKey:       cfg.APIKey,
		Orchestrator: c.orch,
		Batch:        c.batch,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("init server failed: %w", err)
	}
	defer srv.Close()

	addr := cfg.Addr()
	runtimeCfg := loadHTTPRuntimeConfig()
	httpServer := newHTTPServer(addr, srv.Handler(), runtimeCfg)
	httpServer.RegisterOnShutdown(srv.CloseStreams)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			return fmt.Errorf("listen failed: %w", listenErr)
		}
		return nil
	})
	if c.batch != nil {
		g.Go(func() error {
			return c.batch.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down, draining in-flight requests", zap.Duration("timeout", runtimeCfg.shutdownTimeout))
		timedOut, shutdownErr := shutdownHTTPServer(httpServer, runtimeCfg.shutdownTimeout)
		if shutdownErr != nil {
			return shutdownErr
		}
		if timedOut {
			logger.Warn("gateway shutdown degraded: in-flight requests exceeded timeout, forced close")
		}
		return nil
	})

	logger.Info("gateway listening",
		zap.String("addr", addr),
		zap.String("resolver", cfg.Resolver.Backend),
		zap.String("executor", cfg.Executor.Mode),
		zap.String("sessions", cfg.Session.Backend),
		zap.Bool("batch", c.batch != nil),
		zap.Duration("read_header_timeout", runtimeCfg.readHeaderTimeout),
		zap.Duration("read_timeout", runtimeCfg.readTimeout),
		zap.Duration("write_timeout", runtimeCfg.writeTimeout),
		zap.Duration("idle_timeout", runtimeCfg.idleTimeout),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("gateway shutdown complete")
	return nil
}

func resolveOnce(cmd *cobra.Command, prompt string) error {
	c, err := buildComponents(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	env, perr := c.orch.Handle(cmd.Context(), orchestrator.Inbound{
		Prompt:          prompt,
		SessionID:       sessionID,
		EmployerAddress: employerAddress,
		Transport:       orchestrator.TransportCLI,
	})
	if perr != nil {
		return perr
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

func printOperations(cmd *cobra.Command, c *components) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROUTE\tMETHOD\tPARAMETERS\tSUMMARY")
	for _, op := range c.catalog.Operations() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", op.ID, op.Method, strings.Join(op.ParamNames(), ","), op.Summary)
	}
	return w.Flush()
}

func loadHTTPRuntimeConfig() httpRuntimeConfig {
	return httpRuntimeConfig{
		readHeaderTimeout: readDurationSecondsEnv(envHTTPReadHeaderTimeoutSeconds, defaultHTTPReadHeaderTimeout, false),
		readTimeout:       readDurationSecondsEnv(envHTTPReadTimeoutSeconds, defaultHTTPReadTimeout, false),
		writeTimeout:      readDurationSecondsEnv(envHTTPWriteTimeoutSeconds, defaultHTTPWriteTimeout, true),
		idleTimeout:       readDurationSecondsEnv(envHTTPIdleTimeoutSeconds, defaultHTTPIdleTimeout, false),
		shutdownTimeout:   readDurationSecondsEnv(envHTTPShutdownTimeoutSeconds, defaultHTTPShutdownTimeout, false),
	}
}

func newHTTPServer(addr string, handler http.Handler, runtimeCfg httpRuntimeConfig) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: runtimeCfg.readHeaderTimeout,
		ReadTimeout:       runtimeCfg.readTimeout,
		WriteTimeout:      runtimeCfg.writeTimeout,
		IdleTimeout:       runtimeCfg.idleTimeout,
	}
}

func shutdownHTTPServer(httpServer *http.Server, timeout time.Duration) (bool, error) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if closeErr := httpServer.Close(); closeErr != nil {
				return true, fmt.Errorf("force close failed after shutdown timeout: %w", closeErr)
			}
			return true, nil
		}
		return false, fmt.Errorf("shutdown failed: %w", err)
	}
	return false, nil
}

func readDurationSecondsEnv(key string, fallback time.Duration, allowZero bool) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 || (seconds == 0 && !allowZero) {
		logger.Warn("invalid duration env, using fallback",
			zap.String("key", key),
			zap.String("value", raw),
			zap.Duration("fallback", fallback),
		)
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
