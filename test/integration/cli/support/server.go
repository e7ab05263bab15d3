package support

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// freePort asks the kernel for an unused TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// StartServer starts "checkscan serve" with the given extra arguments on a
// free port and waits for /health.
func (testCtx *TestContext) StartServer(args string) error {
	port, err := freePort()
	if err != nil {
		return fmt.Errorf("failed to find a free port: %w", err)
	}
	testCtx.ServerPort = port

	command := testCtx.substituteCommandVariables(
		fmt.Sprintf("checkscan serve --host %s --port %d %s", testCtx.ServerHost, port, args))
	parts := strings.Fields(command)

	cmd := exec.Command(parts[0], parts[1:]...) //nolint:gosec // G204: test binary
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)
	testCtx.ServerOutput = &syncBuffer{}
	cmd.Stdout = testCtx.ServerOutput
	cmd.Stderr = testCtx.ServerOutput

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	testCtx.ServerCmd = cmd

	if err := testCtx.waitForServerReady(); err != nil {
		out := testCtx.ServerOutput.String()
		if stopErr := testCtx.StopServer(); stopErr != nil {
			return fmt.Errorf("server failed to start and also failed to stop: %w; stop error: %w", err, stopErr)
		}
		return fmt.Errorf("server failed to start: %w\nOutput: %s", err, out)
	}
	return nil
}

// StopServer sends SIGTERM and waits for the server to exit, killing it
// if it does not stop in time.
func (testCtx *TestContext) StopServer() error {
	if testCtx.ServerCmd == nil {
		return nil
	}
	cmd := testCtx.ServerCmd
	testCtx.ServerCmd = nil

	// Signal fails when the process already exited; Wait still reaps it.
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(15 * time.Second):
		_ = cmd.Process.Kill()
		<-done
		return errors.New("server did not shut down within timeout")
	}
}

// waitForServerReady polls the health endpoint.
func (testCtx *TestContext) waitForServerReady() error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if testCtx.isServerHealthy() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.New("server did not become ready within timeout")
}

func (testCtx *TestContext) isServerHealthy() bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(testCtx.GetServerURL() + "/health")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// GetServerURL returns the base URL for the running server.
func (testCtx *TestContext) GetServerURL() string {
	return fmt.Sprintf("http://%s:%d", testCtx.ServerHost, testCtx.ServerPort)
}
