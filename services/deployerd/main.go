package deployerd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"griddeployer/ledger"
	"griddeployer/observability/logging"
	telemetry "griddeployer/observability/otel"
	"griddeployer/scheduler"
)

// Main initialises and runs the deploy scheduler daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/deployerd/config.yaml", "path to deployerd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GRID_ENV"))
	logger := logging.Setup("deployerd", env)
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "deployerd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	signer, err := ledger.SignerFromHex(cfg.SignerKey)
	if err != nil {
		return fmt.Errorf("load signer key: %w", err)
	}
	reader := ledger.NewRPCClient(cfg.RPCEndpoint,
		ledger.WithCallTimeout(cfg.RPC.CallTimeout.Duration),
		ledger.WithRateLimit(cfg.RPC.RateLimit, cfg.RPC.RateBurst),
	)

	sched, err := scheduler.New(schedCfg, reader, signer,
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(NewMetrics()),
	)
	if err != nil {
		return err
	}
	if cfg.PauseOnStart {
		sched.Pause()
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = sched.Bootstrap(bootCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	adminServer := NewAdminServer(sched, cfg.Admin.BearerToken)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      adminServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		log.Printf("deployerd admin listening on %s", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()
	go func() {
		errs <- sched.Run(stopCtx)
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
