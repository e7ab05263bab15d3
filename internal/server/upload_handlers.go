package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/checkscan/internal/pdf"
	"github.com/MeKo-Tech/checkscan/internal/session"
	"github.com/MeKo-Tech/checkscan/internal/utils"
)

// UploadError is a rejected upload with the status to answer it with.
type UploadError struct {
	Status  int
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UploadError) Unwrap() error { return e.Err }

// fileHandler scans an uploaded image or PDF ticket. The response is sent
// once the check-in result is known; the result dwell continues afterwards.
func (s *Server) fileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	imgs, kind, err := s.parseUpload(w, r)
	if err != nil {
		if kind == "" {
			kind = "unknown"
		}
		uploadsTotal.WithLabelValues(kind, "invalid").Inc()
		var ue *UploadError
		if errors.As(err, &ue) {
			s.writeErrorResponse(w, ue.Message, ue.Status)
			return
		}
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The session owns the decode/submit sequence; a dropped client must not
	// cut it short.
	out, err := s.session.HandleFileImages(context.WithoutCancel(r.Context()), imgs)
	if err != nil {
		uploadsTotal.WithLabelValues(kind, "rejected").Inc()
		switch {
		case errors.Is(err, session.ErrBusy):
			s.writeErrorResponse(w, err.Error(), http.StatusConflict)
		case errors.Is(err, session.ErrClosed):
			s.writeErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
		default:
			s.writeErrorResponse(w, fmt.Sprintf("scan failed: %v", err), http.StatusInternalServerError)
		}
		return
	}

	uploadsTotal.WithLabelValues(kind, "accepted").Inc()
	s.writeJSON(w, http.StatusOK, FileResponse{
		Success: !out.Aborted,
		Outcome: out,
		State:   s.session.Snapshot(),
	})
}

// parseUpload reads the multipart "image" field and returns the images to
// scan, together with the upload kind ("image" or "pdf").
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) ([]image.Image, string, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(strings.ToLower(err.Error()), "too large") {
			return nil, "", &UploadError{Status: http.StatusRequestEntityTooLarge, Message: "File too large", Err: err}
		}
		return nil, "", &UploadError{Status: http.StatusBadRequest, Message: "Failed to parse form data", Err: err}
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", &UploadError{Status: http.StatusBadRequest, Message: "No image file provided", Err: err}
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		return nil, "", &UploadError{Status: http.StatusRequestEntityTooLarge, Message: "File too large"}
	}
	uploadSizeBytes.Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", &UploadError{Status: http.StatusInternalServerError, Message: "Failed to read upload", Err: err}
	}

	if utils.IsPDF(data) {
		pages, err := pdf.ExtractImagesFromBytes(data, pdf.Options{Pages: r.FormValue("pages")})
		if err != nil {
			if errors.Is(err, pdf.ErrNoImages) {
				return nil, "pdf", &UploadError{Status: http.StatusUnprocessableEntity, Message: "PDF contains no images", Err: err}
			}
			return nil, "pdf", &UploadError{Status: http.StatusBadRequest, Message: "Invalid PDF", Err: err}
		}
		return pdf.Images(pages), "pdf", nil
	}

	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, "image", &UploadError{Status: http.StatusBadRequest, Message: "Invalid image format", Err: err}
	}
	return []image.Image{img}, "image", nil
}
