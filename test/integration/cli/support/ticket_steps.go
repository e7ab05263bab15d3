package support

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

// BackendRequest is one check-in the fake backend received.
type BackendRequest struct {
	EventID       string `json:"eventId"`
	ScanPayload   string `json:"scanPayload"`
	Authorization string `json:"-"`
}

// renderQR draws payload as a black-on-white code with a quiet zone.
func renderQR(payload string) (image.Image, error) {
	hints := map[gozxing.EncodeHintType]interface{}{
		gozxing.EncodeHintType_MARGIN: 0,
	}
	matrix, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, 300, 300, hints)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %w", payload, err)
	}
	const margin = 40
	img := image.NewRGBA(image.Rect(0, 0, matrix.GetWidth()+2*margin, matrix.GetHeight()+2*margin))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if matrix.Get(x, y) {
				img.Set(x+margin, y+margin, color.Black)
			}
		}
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // G304: scenario temp path
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// aTicketImageWithPayload writes a QR ticket into the temp directory.
func (testCtx *TestContext) aTicketImageWithPayload(name, payload string) error {
	img, err := renderQR(payload)
	if err != nil {
		return err
	}
	return writePNG(testCtx.TempPath(name), img)
}

// aBlankImage writes an image without any code.
func (testCtx *TestContext) aBlankImage(name string) error {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return writePNG(testCtx.TempPath(name), img)
}

// aTicketPDFWithPayload wraps a QR ticket into a one page PDF.
func (testCtx *TestContext) aTicketPDFWithPayload(name, payload string) error {
	pngPath := testCtx.TempPath(strings.TrimSuffix(name, filepath.Ext(name)) + "-page.png")
	img, err := renderQR(payload)
	if err != nil {
		return err
	}
	if err := writePNG(pngPath, img); err != nil {
		return err
	}
	if err := api.ImportImagesFile([]string{pngPath}, testCtx.TempPath(name), pdfcpu.DefaultImportConfig(), nil); err != nil {
		return fmt.Errorf("failed to build PDF: %w", err)
	}
	return os.Remove(pngPath)
}

// aFileWithContent writes a plain file, e.g. a config file.
func (testCtx *TestContext) aFileWithContent(name string, content *godog.DocString) error {
	path := testCtx.TempPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(testCtx.substituteCommandVariables(content.Content)), 0o600)
}

// startBackend runs a fake check-in backend answering every request with
// status and body.
func (testCtx *TestContext) startBackend(status int, body any) {
	if testCtx.Backend != nil {
		testCtx.Backend.Close()
	}
	testCtx.Backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req BackendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		req.Authorization = r.Header.Get("Authorization")
		testCtx.backendMu.Lock()
		testCtx.BackendRequests = append(testCtx.BackendRequests, req)
		testCtx.backendMu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

// BackendURL returns the check-in endpoint of the fake backend.
func (testCtx *TestContext) BackendURL() string {
	return testCtx.Backend.URL + "/api/checkin/scan"
}

func (testCtx *TestContext) theBackendAcceptsTicketsFor(name string) error {
	testCtx.startBackend(http.StatusOK, map[string]any{
		"message": "Check-in berhasil",
		"data": map[string]any{
			"volunteerInfo": map[string]any{"id": "USR-42", "nama": name},
			"eventInfo":     map[string]any{"id": "EVT-7", "nama": "Bersih Pantai"},
		},
	})
	return nil
}

func (testCtx *TestContext) theBackendRejectsTicketsWith(status int, message, current string) error {
	testCtx.startBackend(status, map[string]any{
		"message":       message,
		"currentStatus": current,
	})
	return nil
}

func (testCtx *TestContext) theBackendShouldHaveReceived(count int) error {
	testCtx.backendMu.Lock()
	defer testCtx.backendMu.Unlock()
	if len(testCtx.BackendRequests) != count {
		return fmt.Errorf("backend received %d check-ins, expected %d: %+v",
			len(testCtx.BackendRequests), count, testCtx.BackendRequests)
	}
	return nil
}

func (testCtx *TestContext) theBackendShouldHaveReceivedPayload(payload, eventID string) error {
	testCtx.backendMu.Lock()
	defer testCtx.backendMu.Unlock()
	for _, req := range testCtx.BackendRequests {
		if req.ScanPayload == payload && req.EventID == eventID {
			return nil
		}
	}
	return fmt.Errorf("no check-in for %q at event %q among %+v", payload, eventID, testCtx.BackendRequests)
}

func (testCtx *TestContext) theBackendShouldHaveSeenToken(token string) error {
	testCtx.backendMu.Lock()
	defer testCtx.backendMu.Unlock()
	want := "Bearer " + token
	for _, req := range testCtx.BackendRequests {
		if req.Authorization != want {
			return fmt.Errorf("authorization header was %q, expected %q", req.Authorization, want)
		}
	}
	if len(testCtx.BackendRequests) == 0 {
		return errors.New("backend received no check-ins")
	}
	return nil
}

// RegisterTicketSteps registers fixture and backend steps.
func (testCtx *TestContext) RegisterTicketSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a ticket image "([^"]*)" with payload "([^"]*)"$`, testCtx.aTicketImageWithPayload)
	sc.Step(`^a blank image "([^"]*)"$`, testCtx.aBlankImage)
	sc.Step(`^a ticket PDF "([^"]*)" with payload "([^"]*)"$`, testCtx.aTicketPDFWithPayload)
	sc.Step(`^a file "([^"]*)" with content:$`, testCtx.aFileWithContent)

	sc.Step(`^the check-in backend accepts tickets for "([^"]*)"$`, testCtx.theBackendAcceptsTicketsFor)
	sc.Step(`^the check-in backend rejects tickets with status (\d+), message "([^"]*)" and status "([^"]*)"$`,
		testCtx.theBackendRejectsTicketsWith)
	sc.Step(`^the backend should have received (\d+) check-ins?$`, testCtx.theBackendShouldHaveReceived)
	sc.Step(`^the backend should have received "([^"]*)" for event "([^"]*)"$`,
		testCtx.theBackendShouldHaveReceivedPayload)
	sc.Step(`^the backend should have seen the token "([^"]*)"$`, testCtx.theBackendShouldHaveSeenToken)
}
