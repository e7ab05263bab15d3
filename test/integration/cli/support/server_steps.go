package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cucumber/godog"
)

// theServerIsRunning starts the server against the fake backend.
func (testCtx *TestContext) theServerIsRunning() error {
	return testCtx.StartServer("--endpoint {endpoint} --event EVT-7")
}

// theServerIsRunningWith starts the server with extra flags.
func (testCtx *TestContext) theServerIsRunningWith(args string) error {
	return testCtx.StartServer(args)
}

// iGET performs a GET request against the running server.
func (testCtx *TestContext) iGET(endpoint string) error {
	return testCtx.makeHTTPRequest(http.MethodGet, endpoint, "", nil)
}

// iPOST performs a POST with a JSON body.
func (testCtx *TestContext) iPOST(endpoint, body string) error {
	return testCtx.makeHTTPRequest(http.MethodPost, endpoint, "application/json", strings.NewReader(body))
}

// iUpload posts a file from the temp directory as the multipart "image"
// field.
func (testCtx *TestContext) iUpload(name, endpoint string) error {
	path := testCtx.TempPath(name)
	data, err := os.ReadFile(path) //nolint:gosec // G304: scenario temp path
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return testCtx.makeHTTPRequest(http.MethodPost, endpoint, writer.FormDataContentType(), &body)
}

func (testCtx *TestContext) makeHTTPRequest(method, endpoint, contentType string, body io.Reader) error {
	req, err := http.NewRequest(method, testCtx.GetServerURL()+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(respBody)
	testCtx.LastHTTPHeaders = make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			testCtx.LastHTTPHeaders[key] = values[0]
		}
	}
	return nil
}

// theResponseStatusShouldBe verifies the HTTP response status.
func (testCtx *TestContext) theResponseStatusShouldBe(expectedStatus int) error {
	if testCtx.LastHTTPStatusCode != expectedStatus {
		return fmt.Errorf("expected status %d, got %d\nResponse: %s",
			expectedStatus, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseShouldContain verifies the response body contains text.
func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nResponse: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseJSONFieldShouldBe compares a dotted field of the JSON body.
func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, expected string) error {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &data); err != nil {
		return fmt.Errorf("response is not valid JSON: %w\nResponse: %s", err, testCtx.LastHTTPResponse)
	}
	var current interface{} = data
	for _, part := range strings.Split(field, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return fmt.Errorf("cannot navigate into '%s' of '%s'", part, field)
		}
		if current, ok = node[part]; !ok {
			return fmt.Errorf("field '%s' not found in response", field)
		}
	}
	if got := fmt.Sprint(current); got != expected {
		return fmt.Errorf("field '%s' is '%s', expected '%s'", field, got, expected)
	}
	return nil
}

// theHeaderShouldBe verifies a response header.
func (testCtx *TestContext) theHeaderShouldBe(name, expected string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != expected {
		return fmt.Errorf("header %s is '%s', expected '%s'", name, got, expected)
	}
	return nil
}

// iSendSIGTERMToTheServer asks the server to shut down.
func (testCtx *TestContext) iSendSIGTERMToTheServer() error {
	if testCtx.ServerCmd == nil {
		return errors.New("no server process running")
	}
	return testCtx.ServerCmd.Process.Signal(syscall.SIGTERM)
}

// theServerShouldShutdownGracefully waits for a clean exit.
func (testCtx *TestContext) theServerShouldShutdownGracefully() error {
	if testCtx.ServerCmd == nil {
		return errors.New("no server process running")
	}
	cmd := testCtx.ServerCmd
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		testCtx.ServerCmd = nil
		if err != nil {
			return fmt.Errorf("server exited with error: %w\nOutput: %s", err, testCtx.ServerOutput.String())
		}
		if !strings.Contains(testCtx.ServerOutput.String(), "Graceful shutdown completed") {
			return fmt.Errorf("server did not log a graceful shutdown\nOutput: %s", testCtx.ServerOutput.String())
		}
		return nil
	case <-time.After(15 * time.Second):
		return errors.New("server did not shut down within timeout")
	}
}

// RegisterServerSteps registers all server-related step definitions.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the scan server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^the scan server is running with "([^"]*)"$`, testCtx.theServerIsRunningWith)

	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I POST "([^"]*)" with body '([^']*)'$`, testCtx.iPOST)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUpload)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theHeaderShouldBe)

	sc.Step(`^I send SIGTERM to the server$`, testCtx.iSendSIGTERMToTheServer)
	sc.Step(`^the server should shut down gracefully$`, testCtx.theServerShouldShutdownGracefully)
}
