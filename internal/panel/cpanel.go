package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mailherd/mailherd/internal/domain"
	"github.com/mailherd/mailherd/pkg/telemetry"
)

// CPanel drives the cPanel UAPI (https://host:2083/execute/...) with
// API-token authentication.
type CPanel struct {
	cfg     Config
	baseURL string
	http    *http.Client
}

// NewCPanel validates cfg and returns a UAPI client.
func NewCPanel(cfg Config) (*CPanel, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("cpanel: panel url required")
	}
	if cfg.Username == "" {
		return nil, errors.New("cpanel: username required")
	}
	if cfg.Token == "" {
		return nil, errors.New("cpanel: api token required")
	}
	return &CPanel{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.httpClient(),
	}, nil
}

func (c *CPanel) Provider() string { return "cpanel" }

// uapiResponse is the envelope every UAPI call returns. status 1 means the
// call succeeded; anything else comes with messages in errors.
type uapiResponse struct {
	Status int             `json:"status"`
	Errors []string        `json:"errors"`
	Data   json.RawMessage `json:"data"`
}

// call performs one UAPI GET and decodes the data payload into out.
func (c *CPanel) call(ctx context.Context, fn string, params url.Values, out any) error {
	if err := c.cfg.wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	ctx, span := otel.Tracer("panel").Start(ctx, "cpanel."+fn)
	defer span.End()
	span.SetAttributes(attribute.String("panel.call", fn))

	endpoint := c.baseURL + "/execute/" + fn
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("cpanel %s: build request: %w", fn, err)
	}
	req.Header.Set("Authorization", "cpanel "+c.cfg.Username+":"+c.cfg.Token)

	start := time.Now()
	resp, err := c.http.Do(req)
	telemetry.PanelAPIDuration.WithLabelValues("cpanel").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		telemetry.PanelAPICalls.WithLabelValues("cpanel", fn, "error").Inc()
		return fmt.Errorf("cpanel %s: %w", fn, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &domain.PanelAPIError{
			Provider: "cpanel",
			Op:       fn,
			Message:  fmt.Sprintf("unexpected http status %d", resp.StatusCode),
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "unexpected http status")
		telemetry.PanelAPICalls.WithLabelValues("cpanel", fn, "error").Inc()
		return apiErr
	}

	var envelope uapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response")
		telemetry.PanelAPICalls.WithLabelValues("cpanel", fn, "error").Inc()
		return fmt.Errorf("cpanel %s: decode response: %w", fn, err)
	}
	if envelope.Status != 1 {
		msg := strings.Join(envelope.Errors, "; ")
		if msg == "" {
			msg = "call rejected without a message"
		}
		var apiErr error = &domain.PanelAPIError{Provider: "cpanel", Op: fn, Message: msg}
		if strings.Contains(strings.ToLower(msg), "already exists") {
			apiErr = &domain.MailboxExistsError{Address: params.Get("email") + "@" + params.Get("domain")}
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "api rejected call")
		telemetry.PanelAPICalls.WithLabelValues("cpanel", fn, "rejected").Inc()
		return apiErr
	}

	telemetry.PanelAPICalls.WithLabelValues("cpanel", fn, "ok").Inc()
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("cpanel %s: decode data: %w", fn, err)
		}
	}
	return nil
}

// Ping verifies connectivity and credentials.
func (c *CPanel) Ping(ctx context.Context) error {
	return c.call(ctx, "Variables/get_user_information", nil, nil)
}

// ListMailboxes returns every email account under dom. UAPI list_pops
// returns accounts across all of the user's domains, so the result is
// filtered here.
func (c *CPanel) ListMailboxes(ctx context.Context, dom string) ([]domain.Mailbox, error) {
	var pops []struct {
		Email string `json:"email"`
	}
	if err := c.call(ctx, "Email/list_pops", nil, &pops); err != nil {
		return nil, err
	}

	boxes := make([]domain.Mailbox, 0, len(pops))
	for _, p := range pops {
		box, err := domain.ParseAddress(p.Email)
		if err != nil {
			// Entries like the system account have no @domain part.
			continue
		}
		if strings.EqualFold(box.Domain, dom) {
			boxes = append(boxes, box)
		}
	}
	return boxes, nil
}

// CreateMailbox provisions one account. Quota 0 means unlimited.
func (c *CPanel) CreateMailbox(ctx context.Context, req domain.CreateRequest) error {
	params := url.Values{}
	params.Set("email", req.Mailbox.User)
	params.Set("domain", req.Mailbox.Domain)
	params.Set("password", req.Password)
	params.Set("quota", strconv.Itoa(req.QuotaMB))
	return c.call(ctx, "Email/add_pop", params, nil)
}

// ResetPassword rotates the password of one account.
func (c *CPanel) ResetPassword(ctx context.Context, box domain.Mailbox, newPassword string) error {
	params := url.Values{}
	params.Set("email", box.User)
	params.Set("domain", box.Domain)
	params.Set("password", newPassword)
	return c.call(ctx, "Email/passwd_pop", params, nil)
}
