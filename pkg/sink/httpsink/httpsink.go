// Package httpsink posts finished submissions and copy requests to the OpenWrite API.
package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/state"
)

// Logger defines the minimal logging interface used by the sink.
type Logger interface {
	Printf(format string, args ...any)
}

// Sink satisfies ports.SubmissionSink and ports.NotificationSink over HTTP.
// An empty URL disables the matching operation.
type Sink struct {
	submissionURL   string
	notificationURL string
	subscribeURL    string
	client          *http.Client
	logger          Logger
}

var (
	_ ports.SubmissionSink   = (*Sink)(nil)
	_ ports.NotificationSink = (*Sink)(nil)
	_ ports.Waitlist         = (*Sink)(nil)
)

// ErrDisabled is returned when the endpoint for an operation is not configured.
var ErrDisabled = errors.New("sink endpoint not configured")

// Endpoints lists the API URLs the sink talks to.
type Endpoints struct {
	Submission   string
	Notification string
	Subscribe    string
}

func New(endpoints Endpoints, client *http.Client, logger Logger) *Sink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sink{
		submissionURL:   endpoints.Submission,
		notificationURL: endpoints.Notification,
		subscribeURL:    endpoints.Subscribe,
		client:          client,
		logger:          logger,
	}
}

type submissionPayload struct {
	PromptID       any    `json:"promptId"`
	SubmissionText string `json:"submissionText"`
	IsAnonymous    bool   `json:"isAnonymous"`
}

type notificationPayload struct {
	RecipientEmail string `json:"recipientEmail"`
	PromptText     string `json:"promptText"`
	SubmissionText string `json:"submissionText"`
}

// Submit sends the submission with the writer's bearer token. Any 2xx is success.
func (s *Sink) Submit(ctx context.Context, sub state.Submission) error {
	if s.submissionURL == "" {
		return ports.NewPortError("submit", ports.CodeNotFound, ErrDisabled)
	}
	payload := submissionPayload{
		PromptID:       promptIDValue(sub.PromptID),
		SubmissionText: sub.Text,
		IsAnonymous:    sub.IsAnonymous,
	}
	headers := map[string]string{}
	if sub.Identity.Token != "" {
		headers["Authorization"] = "Bearer " + sub.Identity.Token
	}
	return s.post(ctx, "submit", s.submissionURL, payload, headers)
}

// Notify asks the API to email a copy of the submission.
func (s *Sink) Notify(ctx context.Context, n state.Notification) error {
	if s.notificationURL == "" {
		return ports.NewPortError("notify", ports.CodeNotFound, ErrDisabled)
	}
	if !strings.Contains(n.RecipientEmail, "@") {
		return ports.NewPortError("notify", ports.CodeBadRequest, fmt.Errorf("invalid email address %q", n.RecipientEmail))
	}
	payload := notificationPayload{
		RecipientEmail: n.RecipientEmail,
		PromptText:     n.PromptText,
		SubmissionText: n.SubmissionText,
	}
	return s.post(ctx, "notify", s.notificationURL, payload, nil)
}

// Subscribe adds email to the waitlist. The API answers 201 for new addresses and
// 200 for known ones.
func (s *Sink) Subscribe(ctx context.Context, email string) (bool, error) {
	if s.subscribeURL == "" {
		return false, ports.NewPortError("subscribe", ports.CodeNotFound, ErrDisabled)
	}
	if !strings.Contains(email, "@") {
		return false, ports.NewPortError("subscribe", ports.CodeBadRequest, fmt.Errorf("invalid email address %q", email))
	}
	status, err := s.postStatus(ctx, "subscribe", s.subscribeURL, map[string]string{"email": email}, nil)
	if err != nil {
		return false, err
	}
	return status == http.StatusCreated, nil
}

// promptIDValue keeps numeric prompt ids numeric on the wire.
func promptIDValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func (s *Sink) post(ctx context.Context, op, url string, payload any, headers map[string]string) error {
	_, err := s.postStatus(ctx, op, url, payload, headers)
	return err
}

func (s *Sink) postStatus(ctx context.Context, op, url string, payload any, headers map[string]string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, ports.WrapContextError(op, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, ports.NewPortError(op, ports.CodeBadRequest, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, ports.NewPortError(op, ports.CodeBadRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, s.wrapAndLogError(op, ports.WrapContextError(op, err))
		}
		return 0, s.wrapAndLogError(op, ports.NewPortError(op, ports.CodeTransport, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.log(op, map[string]any{"status": resp.StatusCode})
		return resp.StatusCode, nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, s.wrapAndLogError(op, classifyResponse(op, resp, detail))
}

func classifyResponse(op string, resp *http.Response, detail []byte) error {
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	pe := ports.NewPortError(op, ports.CodeUpstream, err)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		pe.Code = ports.CodeUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		pe.Code = ports.CodeRateLimited
		pe.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusNotFound:
		pe.Code = ports.CodeNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		pe.Code = ports.CodeBadRequest
	}
	return pe
}

func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (s *Sink) wrapAndLogError(op string, err error) error {
	s.log(op, map[string]any{
		"code":  ports.CodeOf(err),
		"error": err.Error(),
	})
	return err
}

func (s *Sink) log(op string, attrs map[string]any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("sink op=%s attrs=%v", op, attrs)
}
