package domain

import (
	"fmt"
	"strings"
)

// Mailbox identifies a single email account on a hosted domain.
type Mailbox struct {
	User   string `json:"user"`
	Domain string `json:"domain"`
}

// Address returns the full user@domain form.
func (m Mailbox) Address() string {
	return m.User + "@" + m.Domain
}

// ParseAddress splits a user@domain address into a Mailbox.
func ParseAddress(addr string) (Mailbox, error) {
	user, dom, ok := strings.Cut(strings.TrimSpace(addr), "@")
	if !ok || user == "" || dom == "" {
		return Mailbox{}, fmt.Errorf("invalid email address %q", addr)
	}
	return Mailbox{User: user, Domain: dom}, nil
}

// CreateRequest describes a mailbox to be provisioned on a panel.
// The password is never serialized.
type CreateRequest struct {
	Mailbox   Mailbox `json:"mailbox"`
	Password  string  `json:"-"`
	QuotaMB   int     `json:"quota_mb"`
	Generated bool    `json:"generated"`
}

// ResetResult pairs a mailbox with the password it was rotated to.
// The password is never serialized.
type ResetResult struct {
	Mailbox     Mailbox `json:"mailbox"`
	NewPassword string  `json:"-"`
}
