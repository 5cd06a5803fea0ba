package panel

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mailherd/mailherd/internal/domain"
)

// Limiter gates outbound API calls. Wait blocks until a call slot is free
// or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client is the provider-neutral surface the commands drive.
type Client interface {
	Provider() string
	Ping(ctx context.Context) error
	ListMailboxes(ctx context.Context, dom string) ([]domain.Mailbox, error)
	CreateMailbox(ctx context.Context, req domain.CreateRequest) error
	ResetPassword(ctx context.Context, box domain.Mailbox, newPassword string) error
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider string // "cpanel" or "aapanel"
	BaseURL  string
	Username string // cPanel account user, unused by aaPanel
	Token    string // cPanel API token / aaPanel API key
	Insecure bool   // skip TLS verification for self-signed panels
	Timeout  time.Duration
	Limiter  Limiter // nil = unthrottled
	Logger   *slog.Logger
}

// New builds the Client for cfg.Provider.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "cpanel":
		return NewCPanel(cfg)
	case "aapanel":
		return NewAAPanel(cfg)
	default:
		return nil, fmt.Errorf("unknown panel provider %q (want cpanel or aapanel)", cfg.Provider)
	}
}

func (c Config) httpClient() *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	if c.Insecure {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c Config) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}
