package checkin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxResponseBytes = 1 << 20

// Context carries the per-session parameters of a submission.
type Context struct {
	EventID string
}

// Submitter confirms a scanned payload with the check-in backend. Submit never
// fails; every failure is expressed in the returned Result.
type Submitter interface {
	Submit(ctx context.Context, payload string, cc Context) Result
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, payload string, cc Context) Result

func (f SubmitterFunc) Submit(ctx context.Context, payload string, cc Context) Result {
	return f(ctx, payload, cc)
}

// Invalidator is told when a successful check-in makes cached lists of
// recent check-ins stale.
type Invalidator interface {
	InvalidateRecentCheckins()
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func()

func (f InvalidatorFunc) InvalidateRecentCheckins() { f() }

// Config configures a Client.
type Config struct {
	Endpoint string
	Token    string
	// Timeout bounds the round-trip; zero leaves it to the transport.
	Timeout     time.Duration
	HTTPClient  *http.Client
	Invalidator Invalidator
	Logger      *slog.Logger
}

// Client posts scan payloads to the check-in endpoint.
type Client struct {
	endpoint    string
	token       string
	httpClient  *http.Client
	invalidator Invalidator
	logger      *slog.Logger
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid check-in endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid check-in endpoint %q: want an absolute http(s) URL", cfg.Endpoint)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:    u.String(),
		token:       cfg.Token,
		httpClient:  hc,
		invalidator: cfg.Invalidator,
		logger:      logger.With("component", "checkin"),
	}, nil
}

type submitRequest struct {
	EventID     string `json:"eventId"`
	ScanPayload string `json:"scanPayload"`
}

type successBody struct {
	Message string `json:"message"`
	Data    struct {
		VolunteerInfo *VolunteerInfo `json:"volunteerInfo"`
		EventInfo     *EventInfo     `json:"eventInfo"`
	} `json:"data"`
}

type failureBody struct {
	Message       string         `json:"message"`
	VolunteerInfo *VolunteerInfo `json:"volunteerInfo"`
	CurrentStatus string         `json:"currentStatus"`
}

// Submit implements Submitter.
func (c *Client) Submit(ctx context.Context, payload string, cc Context) Result {
	if strings.TrimSpace(payload) == "" {
		return Warning(EmptyPayloadMessage)
	}
	if strings.TrimSpace(cc.EventID) == "" {
		return Warning(MissingEventMessage)
	}

	requestID := uuid.NewString()
	logger := c.logger.With("request_id", requestID, "event_id", cc.EventID)

	status, body, err := c.post(ctx, requestID, submitRequest{EventID: cc.EventID, ScanPayload: payload})
	if err != nil {
		logger.Warn("Check-in request failed", "error", err)
		return Warning(UnreachableMessage)
	}

	switch {
	case status >= 200 && status < 300:
		res := c.successResult(body, logger)
		logger.Info("Check-in accepted", "status", status, "volunteer", res.SubjectName())
		if c.invalidator != nil {
			c.invalidator.InvalidateRecentCheckins()
		}
		return res
	case status >= 500:
		res := failureResult(status, body)
		logger.Warn("Check-in server error", "status", status, "message", res.Message)
		return res
	default:
		res := failureResult(status, body)
		logger.Info("Check-in rejected", "status", status, "message", res.Message, "current_status", res.CurrentStatus)
		return res
	}
}

func (c *Client) post(ctx context.Context, requestID string, reqBody submitRequest) (int, []byte, error) {
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal check-in request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) successResult(body []byte, logger *slog.Logger) Result {
	res := Result{Outcome: OutcomeSuccess, Message: DefaultSuccessMessage}
	var parsed successBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		// The check-in was recorded; only the decoration is missing.
		logger.Debug("Unparseable success body", "error", err)
		return res
	}
	if msg := displayText(parsed.Message); msg != "" {
		res.Message = msg
	}
	res.Volunteer = normalizeVolunteer(parsed.Data.VolunteerInfo)
	res.Event = parsed.Data.EventInfo
	return res
}

func failureResult(status int, body []byte) Result {
	var parsed failureBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = failureBody{}
	}
	msg := displayText(parsed.Message)
	if msg == "" {
		msg = DefaultErrorMessage
		if text := http.StatusText(status); text != "" {
			msg = fmt.Sprintf("%s (%s)", DefaultErrorMessage, text)
		}
	}
	return Result{
		Outcome:       OutcomeError,
		Message:       msg,
		Volunteer:     normalizeVolunteer(parsed.VolunteerInfo),
		Detail:        statusDetail(parsed.CurrentStatus),
		CurrentStatus: parsed.CurrentStatus,
	}
}

func normalizeVolunteer(v *VolunteerInfo) *VolunteerInfo {
	if v == nil {
		return nil
	}
	out := *v
	out.Name = displayText(out.Name)
	return &out
}
