package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"rikapay/apps/gateway/internal/config"
)

func TestLoadHTTPRuntimeConfigDefaults(t *testing.T) {
	unsetEnvForTest(t, envHTTPReadHeaderTimeoutSeconds)
	unsetEnvForTest(t, envHTTPReadTimeoutSeconds)
	unsetEnvForTest(t, envHTTPWriteTimeoutSeconds)
	unsetEnvForTest(t, envHTTPIdleTimeoutSeconds)
	unsetEnvForTest(t, envHTTPShutdownTimeoutSeconds)

	cfg := loadHTTPRuntimeConfig()
	if cfg.readHeaderTimeout != defaultHTTPReadHeaderTimeout {
		t.Fatalf("readHeaderTimeout=%s want=%s", cfg.readHeaderTimeout, defaultHTTPReadHeaderTimeout)
	}
	if cfg.readTimeout != defaultHTTPReadTimeout {
		t.Fatalf("readTimeout=%s want=%s", cfg.readTimeout, defaultHTTPReadTimeout)
	}
	if cfg.writeTimeout != defaultHTTPWriteTimeout {
		t.Fatalf("writeTimeout=%s want=%s", cfg.writeTimeout, defaultHTTPWriteTimeout)
	}
	if cfg.idleTimeout != defaultHTTPIdleTimeout {
		t.Fatalf("idleTimeout=%s want=%s", cfg.idleTimeout, defaultHTTPIdleTimeout)
	}
	if cfg.shutdownTimeout != defaultHTTPShutdownTimeout {
		t.Fatalf("shutdownTimeout=%s want=%s", cfg.shutdownTimeout, defaultHTTPShutdownTimeout)
	}
}

func TestLoadHTTPRuntimeConfigFromEnv(t *testing.T) {
	t.Setenv(envHTTPReadHeaderTimeoutSeconds, "5")
	t.Setenv(envHTTPReadTimeoutSeconds, "60")
	t.Setenv(envHTTPWriteTimeoutSeconds, "300")
	t.Setenv(envHTTPIdleTimeoutSeconds, "90")
	t.Setenv(envHTTPShutdownTimeoutSeconds, "15")

	cfg := loadHTTPRuntimeConfig()
	if cfg.readHeaderTimeout != 5*time.Second {
		t.Fatalf("readHeaderTimeout=%s want=%s", cfg.readHeaderTimeout, 5*time.Second)
	}
	if cfg.readTimeout != 60*time.Second {
		t.Fatalf("readTimeout=%s want=%s", cfg.readTimeout, 60*time.Second)
	}
	if cfg.writeTimeout != 300*time.Second {
		t.Fatalf("writeTimeout=%s want=%s", cfg.writeTimeout, 300*time.Second)
	}
	if cfg.idleTimeout != 90*time.Second {
		t.Fatalf("idleTimeout=%s want=%s", cfg.idleTimeout, 90*time.Second)
	}
	if cfg.shutdownTimeout != 15*time.Second {
		t.Fatalf("shutdownTimeout=%s want=%s", cfg.shutdownTimeout, 15*time.Second)
	}
}

func TestShutdownHTTPServerDrainsInflightRequest(t *testing.T) {
	started := make(chan struct{}, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(120 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer, baseURL, serveDone := startTestHTTPServer(t, handler)

	clientDone := make(chan error, 1)
	go func() {
		resp, err := http.Get(baseURL)
		if err != nil {
			clientDone <- err
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			clientDone <- err
			return
		}
		if resp.StatusCode != http.StatusOK {
			clientDone <- fmt.Errorf("status=%d", resp.StatusCode)
			return
		}
		if strings.TrimSpace(string(body)) != "ok" {
			clientDone <- fmt.Errorf("body=%q", string(body))
			return
		}
		clientDone <- nil
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	timedOut, err := shutdownHTTPServer(httpServer, 2*time.Second)
	if err != nil {
		t.Fatalf("shutdownHTTPServer returned error: %v", err)
	}
	if timedOut {
		t.Fatalf("expected graceful shutdown without timeout")
	}

	if clientErr := <-clientDone; clientErr != nil {
		t.Fatalf("in-flight request failed: %v", clientErr)
	}

	serveErr := <-serveDone
	if !errors.Is(serveErr, http.ErrServerClosed) {
		t.Fatalf("Serve returned err=%v want=%v", serveErr, http.ErrServerClosed)
	}
}

func TestShutdownHTTPServerTimeoutFallsBackToForceClose(t *testing.T) {
	started := make(chan struct{}, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("slow"))
	})

	httpServer, baseURL, serveDone := startTestHTTPServer(t, handler)
	go func() {
		_, _ = http.Get(baseURL)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	timedOut, err := shutdownHTTPServer(httpServer, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("shutdownHTTPServer returned error: %v", err)
	}
	if !timedOut {
		t.Fatalf("expected timeout fallback to force close")
	}

	serveErr := <-serveDone
	if !errors.Is(serveErr, http.ErrServerClosed) {
		t.Fatalf("Serve returned err=%v want=%v", serveErr, http.ErrServerClosed)
	}
}

func startTestHTTPServer(t *testing.T, handler http.Handler) (*http.Server, string, <-chan error) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	httpServer := &http.Server{Handler: handler}
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- httpServer.Serve(listener)
	}()

	return httpServer, "http://" + listener.Addr().String(), serveDone
}

func TestBuildComponentsDefaults(t *testing.T) {
	c, err := buildComponents(context.Background(), config.Defaults(), zap.NewNop())
	if err != nil {
		t.Fatalf("buildComponents failed: %v", err)
	}
	defer c.Close()
	if c.orch == nil || c.catalog == nil {
		t.Fatal("expected orchestrator and catalog")
	}
	if c.batch != nil {
		t.Fatal("batch should be disabled by default")
	}
}

func TestBuildComponentsWithBatchAndLLM(t *testing.T) {
	cfg := config.Defaults()
	cfg.Batch.Enabled = true
	cfg.Batch.Schedule = "@daily"
	cfg.Batch.SignerURL = "http://127.0.0.1:9/sign"
	cfg.Resolver.Backend = config.ResolverLLM
	cfg.Resolver.Model = "gpt-4o-mini"
	cfg.Resolver.APIKey = "sk-test"

	c, err := buildComponents(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("buildComponents failed: %v", err)
	}
	defer c.Close()
	if c.batch == nil {
		t.Fatal("expected batch service")
	}
	if got := c.batch.State().Schedule; got != "@daily" {
		t.Fatalf("schedule=%q", got)
	}
}

func TestBuildComponentsRejectsBadSchedule(t *testing.T) {
	cfg := config.Defaults()
	cfg.Batch.Enabled = true
	cfg.Batch.Schedule = "every now and then"
	if _, err := buildComponents(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected schedule error")
	}
}

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv("PAYROLLGW_LOG_LEVEL", "error")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v failed: %v", args, err)
	}
	return out.String()
}

func TestOperationsCommandListsCatalog(t *testing.T) {
	out := runRoot(t, "operations")
	for _, want := range []string{"ROUTE", "/employees", "/payrolls/process", "employer_address"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestResolveCommandPrintsEnvelope(t *testing.T) {
	out := runRoot(t, "resolve", "--employer", "0x123", "check", "the", "balance", "of", "contract", "2")
	var env struct {
		APIRoute   *string                `json:"api_route"`
		Parameters map[string]interface{} `json:"parameters"`
		SessionID  string                 `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode output failed: %v\n%s", err, out)
	}
	if env.APIRoute == nil || *env.APIRoute != "/balance" {
		t.Fatalf("unexpected route: %s", out)
	}
	if env.Parameters["contract_index"] != float64(2) || env.SessionID == "" {
		t.Fatalf("unexpected envelope: %s", out)
	}
}

func unsetEnvForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s failed: %v", key, err)
	}
}
