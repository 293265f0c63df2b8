// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

// Package launcher implements the spawn shim: it starts the
// intercepting proxy, launches a client program with the environment
// variables that steer it through the proxy, and owns the proxy's
// lifecycle for the duration of the child's run.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/della-wonders/wonders/proxy"
)

// ShutdownGrace bounds how long the launcher waits for the proxy to
// drain in-flight flows once the child has exited or been signaled.
const ShutdownGrace = 30 * time.Second

// ErrProxyStart wraps a failure to start the intercepting proxy. Its
// presence in an error chain is how callers distinguish a proxy
// startup failure (wonder_run exit code 2) from other failure modes.
var ErrProxyStart = errors.New("launcher: failed to start proxy")

// Config configures a Launcher.
type Config struct {
	Proxy  *proxy.Server
	CADir  string // where the proxy's CA certificate is written for the child to trust
	Logger *slog.Logger
}

// Launcher owns one proxy.Server and the single child process spawned
// against it.
type Launcher struct {
	proxy  *proxy.Server
	caDir  string
	logger *slog.Logger
}

// New builds a Launcher from cfg.
func New(cfg Config) *Launcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{proxy: cfg.Proxy, caDir: cfg.CADir, logger: logger}
}

// Run starts the proxy, spawns program with args and the trust-store
// environment variables set, and blocks until the child exits or ctx
// is canceled (typically by a SIGINT/SIGTERM forwarded via
// signal.NotifyContext in main). It returns the child's exit code.
//
// If ctx is canceled before the child exits, SIGTERM is sent to the
// child first (whichever signal canceled ctx); the proxy is shut down only after the child has
// exited or ShutdownGrace elapses.
func (l *Launcher) Run(ctx context.Context, program string, args []string) (int, error) {
	if err := l.proxy.Start(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProxyStart, err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
		defer cancel()
		if err := l.proxy.Shutdown(shutdownCtx); err != nil {
			l.logger.Error("launcher: proxy shutdown error", "error", err)
		}
	}()

	caCertPath, err := l.writeCACert()
	if err != nil {
		return 0, fmt.Errorf("launcher: write CA certificate: %w", err)
	}
	if caCertPath != "" {
		defer os.Remove(caCertPath)
	}

	path, err := exec.LookPath(program)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), trustEnv(l.proxy.Addr(), caCertPath)...)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launcher: start %s: %w", program, err)
	}
	l.logger.Info("launcher: spawned child", "program", program, "pid", cmd.Process.Pid, "proxy_addr", l.proxy.Addr())

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		return exitCodeOf(err), nil

	case <-ctx.Done():
		l.logger.Info("launcher: forwarding signal to child", "pid", cmd.Process.Pid)
		forwardSignal(cmd)

		select {
		case err := <-exited:
			return exitCodeOf(err), nil
		case <-time.After(ShutdownGrace):
			l.logger.Warn("launcher: child did not exit within grace period, killing", "pid", cmd.Process.Pid)
			cmd.Process.Kill()
			<-exited
			return 1, nil
		}
	}
}

// trustEnv returns the environment variable assignments that steer a
// spawned client through the proxy and its interception CA.
func trustEnv(proxyAddr, caCertPath string) []string {
	proxyURL := "http://" + proxyAddr
	env := []string{
		"HTTP_PROXY=" + proxyURL,
		"HTTPS_PROXY=" + proxyURL,
		"http_proxy=" + proxyURL,
		"https_proxy=" + proxyURL,
	}
	if caCertPath != "" {
		env = append(env,
			"SSL_CERT_FILE="+caCertPath,
			"REQUESTS_CA_BUNDLE="+caCertPath,
			"NODE_EXTRA_CA_CERTS="+caCertPath,
		)
	}
	return env
}

// writeCACert writes the proxy's CA certificate to a file under caDir
// (or a temp directory if caDir is empty) so trust-store environment
// variables can reference it by path.
func (l *Launcher) writeCACert() (string, error) {
	pem := l.proxy.CACertPEM()
	if len(pem) == 0 {
		return "", nil
	}

	dir := l.caDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}

	path := filepath.Join(dir, "della-wonders-ca.pem")
	if err := os.WriteFile(path, pem, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// forwardSignal sends SIGTERM to the child on Unix. On platforms
// without POSIX signals, the child is killed outright since there is
// no graceful-termination signal to forward.
func forwardSignal(cmd *exec.Cmd) {
	if runtime.GOOS == "windows" {
		cmd.Process.Kill()
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		cmd.Process.Kill()
	}
}

// exitCodeOf extracts the child's exit code from the error Wait
// returns. A nil error means exit code 0.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
