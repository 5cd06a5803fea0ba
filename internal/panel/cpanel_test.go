package panel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailherd/mailherd/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCPanelClient(t *testing.T, srv *httptest.Server) *CPanel {
	t.Helper()
	c, err := NewCPanel(Config{
		BaseURL:  srv.URL,
		Username: "acme",
		Token:    "TOKEN123",
		Timeout:  5 * time.Second,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	return c
}

func TestCPanel_ListMailboxes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute/Email/list_pops", r.URL.Path)
		assert.Equal(t, "cpanel acme:TOKEN123", r.Header.Get("Authorization"))
		w.Write([]byte(`{"status":1,"errors":null,"data":[
			{"email":"alice@example.com"},
			{"email":"bob@example.com"},
			{"email":"carol@other.net"},
			{"email":"acme"}
		]}`))
	}))
	defer srv.Close()

	boxes, err := newCPanelClient(t, srv).ListMailboxes(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []domain.Mailbox{
		{User: "alice", Domain: "example.com"},
		{User: "bob", Domain: "example.com"},
	}, boxes, "accounts of other domains and the system login are filtered out")
}

func TestCPanel_CreateMailbox(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute/Email/add_pop", r.URL.Path)
		q := r.URL.Query()
		query = map[string]string{
			"email":    q.Get("email"),
			"domain":   q.Get("domain"),
			"password": q.Get("password"),
			"quota":    q.Get("quota"),
		}
		w.Write([]byte(`{"status":1,"errors":null,"data":null}`))
	}))
	defer srv.Close()

	err := newCPanelClient(t, srv).CreateMailbox(context.Background(), domain.CreateRequest{
		Mailbox:  domain.Mailbox{User: "dave", Domain: "example.com"},
		Password: "pw-1",
		QuotaMB:  512,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"email": "dave", "domain": "example.com", "password": "pw-1", "quota": "512",
	}, query, "add_pop takes the local part, not the full address")
}

func TestCPanel_CreateMailbox_AlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":0,"errors":["The account dave@example.com already exists!"],"data":null}`))
	}))
	defer srv.Close()

	err := newCPanelClient(t, srv).CreateMailbox(context.Background(), domain.CreateRequest{
		Mailbox: domain.Mailbox{User: "dave", Domain: "example.com"},
	})
	require.Error(t, err)

	var exists *domain.MailboxExistsError
	require.ErrorAs(t, err, &exists, "duplicate accounts surface as a typed error")
	assert.Equal(t, "dave@example.com", exists.Address)
}

func TestCPanel_ResetPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute/Email/passwd_pop", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "alice", q.Get("email"))
		assert.Equal(t, "example.com", q.Get("domain"))
		assert.Equal(t, "new-pw", q.Get("password"))
		w.Write([]byte(`{"status":1,"errors":null,"data":null}`))
	}))
	defer srv.Close()

	err := newCPanelClient(t, srv).ResetPassword(context.Background(),
		domain.Mailbox{User: "alice", Domain: "example.com"}, "new-pw")
	require.NoError(t, err)
}

func TestCPanel_APIRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":0,"errors":["access denied","token expired"],"data":null}`))
	}))
	defer srv.Close()

	err := newCPanelClient(t, srv).Ping(context.Background())
	require.Error(t, err)

	var apiErr *domain.PanelAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "cpanel", apiErr.Provider)
	assert.Contains(t, apiErr.Message, "access denied")
	assert.Contains(t, apiErr.Message, "token expired")
}

func TestCPanel_UnexpectedHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := newCPanelClient(t, srv).Ping(context.Background())
	require.Error(t, err)

	var apiErr *domain.PanelAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "403")
}

func TestCPanel_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>login page</html>`))
	}))
	defer srv.Close()

	err := newCPanelClient(t, srv).Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestNewCPanel_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing_url", Config{Username: "u", Token: "t"}},
		{"missing_user", Config{BaseURL: "https://h:2083", Token: "t"}},
		{"missing_token", Config{BaseURL: "https://h:2083", Username: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCPanel(tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestNew_FactoryDispatch(t *testing.T) {
	c, err := New(Config{Provider: "cpanel", BaseURL: "https://h:2083", Username: "u", Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, "cpanel", c.Provider())

	c, err = New(Config{Provider: "AAPANEL", BaseURL: "http://h:7800", Token: "k"})
	require.NoError(t, err)
	assert.Equal(t, "aapanel", c.Provider())

	_, err = New(Config{Provider: "plesk"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plesk")
}

func TestCPanel_RateLimiterBlocksCall(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"status":1}`))
	}))
	defer srv.Close()

	c, err := NewCPanel(Config{
		BaseURL:  srv.URL,
		Username: "acme",
		Token:    "T",
		Limiter:  limiterFunc(func(ctx context.Context) error { return errors.New("window closed") }),
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	err = c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.Zero(t, calls, "a blocked call must never reach the panel")
}

// limiterFunc adapts a func to the Limiter interface.
type limiterFunc func(ctx context.Context) error

func (f limiterFunc) Wait(ctx context.Context) error { return f(ctx) }

var _ Limiter = (limiterFunc)(nil)
