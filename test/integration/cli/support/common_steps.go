package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cucumber/godog"
)

// syncBuffer is a bytes.Buffer safe for the concurrent stdout and stderr
// copies of exec.Cmd.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// theCheckscanBinaryIsAvailable verifies the CLI was built.
func (testCtx *TestContext) theCheckscanBinaryIsAvailable() error {
	if _, err := os.Stat(testCtx.BinPath); err != nil {
		return fmt.Errorf("checkscan binary not found at %s: %w", testCtx.BinPath, err)
	}
	return nil
}

// theEnvironmentVariableIsSetTo sets an environment variable for the next commands.
func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, testCtx.substituteCommandVariables(value))
	return nil
}

// iRunCommand executes a CLI command and records its output.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)
	testCtx.LastCommand = command
	start := time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	var stdout bytes.Buffer
	combined := &syncBuffer{}
	cmd.Stdout = io.MultiWriter(&stdout, combined)
	cmd.Stderr = combined

	err := cmd.Run()
	testCtx.LastStdout = stdout.String()
	testCtx.LastOutput = combined.String()
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(start)

	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	} else {
		testCtx.LastExitCode = 0
	}

	return nil
}

// theCommandShouldSucceed verifies the command exited with 0.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies the output contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldNotContain verifies the output lacks specific text.
func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// theErrorShouldMention verifies the failure output names errorText.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}
	if !strings.Contains(strings.ToLower(testCtx.LastOutput), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual output: %s", errorText, testCtx.LastOutput)
	}
	return nil
}

// stdoutJSON decodes stdout. Logs go to stderr, so stdout holds only the
// result document.
func (testCtx *TestContext) stdoutJSON() (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(testCtx.LastStdout)), &data); err != nil {
		return nil, fmt.Errorf("stdout is not valid JSON: %w\nStdout: %s", err, testCtx.LastStdout)
	}
	return data, nil
}

// theJSONFieldShouldBe compares a dotted field path of the JSON output.
// Numeric path parts index into arrays.
func (testCtx *TestContext) theJSONFieldShouldBe(field, expected string) error {
	data, err := testCtx.stdoutJSON()
	if err != nil {
		return err
	}
	var current interface{} = data
	for _, part := range strings.Split(field, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			val, ok := node[part]
			if !ok {
				return fmt.Errorf("field '%s' not found in JSON", field)
			}
			current = val
		case []interface{}:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("invalid index '%s' for array of %d in '%s'", part, len(node), field)
			}
			current = node[idx]
		default:
			return fmt.Errorf("cannot navigate into '%s' of '%s'", part, field)
		}
	}
	if got := fmt.Sprint(current); got != expected {
		return fmt.Errorf("field '%s' is '%s', expected '%s'", field, got, expected)
	}
	return nil
}

// theFileShouldContain checks a file written by the command.
func (testCtx *TestContext) theFileShouldContain(name, expected string) error {
	data, err := os.ReadFile(testCtx.TempPath(name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if !strings.Contains(string(data), expected) {
		return fmt.Errorf("file %s does not contain '%s'\nContent: %s", name, expected, data)
	}
	return nil
}

// RegisterCommonSteps registers the command and output steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the checkscan binary is available$`, testCtx.theCheckscanBinaryIsAvailable)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)

	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)

	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}
