package support

import (
	"fmt"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/testutil"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastStdout   string
	LastError    error
	LastExitCode int
	LastDuration time.Duration

	// Test environment
	BinPath    string
	WorkingDir string
	TempDir    string
	EnvVars    []string

	// Check-in backend
	Backend         *httptest.Server
	backendMu       sync.Mutex
	BackendRequests []BackendRequest

	// Server management
	ServerCmd    *exec.Cmd
	ServerPort   int
	ServerHost   string
	ServerOutput *syncBuffer

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a new test context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	root, err := testutil.GetProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "checkscan-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	bin := os.Getenv("CHECKSCAN_BIN")
	if bin == "" {
		bin = filepath.Join(root, "bin", "checkscan")
	}

	return &TestContext{
		BinPath:    bin,
		WorkingDir: tempDir,
		TempDir:    tempDir,
		// Keep the developer's own config file out of the run.
		EnvVars: []string{
			"HOME=" + tempDir,
			"XDG_CONFIG_HOME=" + tempDir,
			"CHECKSCAN_SESSION_PROCESSING_DELAY=0s",
		},
		ServerHost: "127.0.0.1",
	}, nil
}

// Cleanup stops the server and backend and removes the temp directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error

	if err := testCtx.StopServer(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop server: %w", err))
	}
	if testCtx.Backend != nil {
		testCtx.Backend.Close()
		testCtx.Backend = nil
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// TempPath returns an absolute path inside the scenario's temp directory.
func (testCtx *TestContext) TempPath(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}

// substituteCommandVariables expands {tmp}, {endpoint} and {port} and
// replaces a leading "checkscan" with the built binary.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	command = strings.ReplaceAll(command, "{tmp}", testCtx.TempDir)
	if testCtx.Backend != nil {
		command = strings.ReplaceAll(command, "{endpoint}", testCtx.BackendURL())
	}
	if testCtx.ServerPort != 0 {
		command = strings.ReplaceAll(command, "{port}", fmt.Sprint(testCtx.ServerPort))
	}
	if rest, ok := strings.CutPrefix(command, "checkscan "); ok {
		command = testCtx.BinPath + " " + rest
	}
	return command
}
