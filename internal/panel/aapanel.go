package panel

import (
	"context"
	"crypto/md5"
	"encoding/hex"
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

// defaultAAPanelQuotaMB is sent when a create request has no quota; the
// aaPanel mail plugin has no unlimited setting.
const defaultAAPanelQuotaMB = 1024

// AAPanel drives the aaPanel mail_sys plugin API with the panel's signed
// request scheme: every POST carries request_time and
// request_token = md5(request_time + md5(api_key)).
type AAPanel struct {
	cfg     Config
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewAAPanel validates cfg and returns a mail_sys client.
func NewAAPanel(cfg Config) (*AAPanel, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("aapanel: panel url required")
	}
	if cfg.Token == "" {
		return nil, errors.New("aapanel: api key required")
	}
	return &AAPanel{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.httpClient(),
		now:     time.Now,
	}, nil
}

func (c *AAPanel) Provider() string { return "aapanel" }

func (c *AAPanel) sign(form url.Values) {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	form.Set("request_time", ts)
	form.Set("request_token", md5Hex(ts+md5Hex(c.cfg.Token)))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// aaResponse covers the plugin's envelope form. List endpoints sometimes
// return a bare JSON array instead, which call handles separately.
type aaResponse struct {
	Status *bool           `json:"status"`
	Msg    json.RawMessage `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// call performs one signed plugin POST. The decoded payload lands in out:
// the data field when an envelope came back, or the whole body when the
// endpoint returned a bare array.
func (c *AAPanel) call(ctx context.Context, action string, form url.Values, out any) error {
	if err := c.cfg.wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	ctx, span := otel.Tracer("panel").Start(ctx, "aapanel."+action)
	defer span.End()
	span.SetAttributes(attribute.String("panel.call", action))

	if form == nil {
		form = url.Values{}
	}
	c.sign(form)

	endpoint := fmt.Sprintf("%s/plugin?action=a&name=mail_sys&s=%s", c.baseURL, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("aapanel %s: build request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	telemetry.PanelAPIDuration.WithLabelValues("aapanel").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		telemetry.PanelAPICalls.WithLabelValues("aapanel", action, "error").Inc()
		return fmt.Errorf("aapanel %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &domain.PanelAPIError{
			Provider: "aapanel",
			Op:       action,
			Message:  fmt.Sprintf("unexpected http status %d", resp.StatusCode),
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "unexpected http status")
		telemetry.PanelAPICalls.WithLabelValues("aapanel", action, "error").Inc()
		return apiErr
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response")
		telemetry.PanelAPICalls.WithLabelValues("aapanel", action, "error").Inc()
		return fmt.Errorf("aapanel %s: decode response: %w", action, err)
	}

	// Bare array: the whole body is the payload.
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "[") {
		telemetry.PanelAPICalls.WithLabelValues("aapanel", action, "ok").Inc()
		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("aapanel %s: decode data: %w", action, err)
			}
		}
		return nil
	}

	var envelope aaResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		telemetry.PanelAPICalls.WithLabelValues("aapanel", action, "error").Inc()
		return fmt.Errorf("aapanel %s: decode envelope: %w", action, err)
	}
	if envelope.Status != nil && !*envelope.Status {
		msg := msgText(envelope.Msg)
		var apiErr error = &domain.PanelAPIError{Provider: "aapanel", Op: action, Message: msg}
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "domain") && (strings.Contains(lower, "not") || strings.Contains(lower, "no ")):
			apiErr = &domain.DomainNotFoundError{Domain: form.Get("domain")}
		case strings.Contains(lower, "exist") && form.Get("username") != "":
			apiErr = &domain.MailboxExistsError{Address: form.Get("username")}
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "api rejected call")
		telemetry.PanelAPICalls.WithLabelValues("aapanel", action, "rejected").Inc()
		return apiErr
	}

	telemetry.PanelAPICalls.WithLabelValues("aapanel", action, "ok").Inc()
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("aapanel %s: decode data: %w", action, err)
		}
	}
	return nil
}

// msgText renders the msg field, which the panel serves as a string, a
// number, or an object depending on the endpoint.
func msgText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "call rejected without a message"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Ping verifies connectivity and the API key.
func (c *AAPanel) Ping(ctx context.Context) error {
	return c.call(ctx, "get_domains", nil, nil)
}

// ListMailboxes returns every account of one mail domain.
func (c *AAPanel) ListMailboxes(ctx context.Context, dom string) ([]domain.Mailbox, error) {
	form := url.Values{}
	form.Set("domain", dom)

	var rows []struct {
		Username string `json:"username"`
	}
	if err := c.call(ctx, "get_mailboxs", form, &rows); err != nil {
		return nil, err
	}

	boxes := make([]domain.Mailbox, 0, len(rows))
	for _, r := range rows {
		box, err := domain.ParseAddress(r.Username)
		if err != nil {
			continue
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// CreateMailbox provisions one account.
func (c *AAPanel) CreateMailbox(ctx context.Context, req domain.CreateRequest) error {
	quota := req.QuotaMB
	if quota <= 0 {
		quota = defaultAAPanelQuotaMB
	}
	form := url.Values{}
	form.Set("username", req.Mailbox.Address())
	form.Set("domain", req.Mailbox.Domain)
	form.Set("password", req.Password)
	form.Set("quota", fmt.Sprintf("%d MB", quota))
	form.Set("is_admin", "0")
	form.Set("active", "1")
	return c.call(ctx, "add_mailbox", form, nil)
}

// ResetPassword rotates the password of one account.
func (c *AAPanel) ResetPassword(ctx context.Context, box domain.Mailbox, newPassword string) error {
	form := url.Values{}
	form.Set("username", box.Address())
	form.Set("domain", box.Domain)
	form.Set("password", newPassword)
	return c.call(ctx, "edit_mailbox", form, nil)
}
