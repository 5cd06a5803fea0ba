package domain

import "fmt"

// PanelAPIError is returned when a control-panel API call is rejected.
type PanelAPIError struct {
	Provider string
	Op       string
	Message  string
}

func (e *PanelAPIError) Error() string {
	return fmt.Sprintf("%s api call %q failed: %s", e.Provider, e.Op, e.Message)
}

// MailboxExistsError is returned when creating a mailbox that already exists.
type MailboxExistsError struct {
	Address string
}

func (e *MailboxExistsError) Error() string {
	return fmt.Sprintf("mailbox already exists: %s", e.Address)
}

// DomainNotFoundError is returned when a domain is not hosted on the panel.
type DomainNotFoundError struct {
	Domain string
}

func (e *DomainNotFoundError) Error() string {
	return fmt.Sprintf("domain not found on panel: %s", e.Domain)
}

// SyncExitError is returned when imapsync exits with a non-zero code.
type SyncExitError struct {
	ExitCode int
	LogTail  string
}

func (e *SyncExitError) Error() string {
	if e.LogTail == "" {
		return fmt.Sprintf("imapsync exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("imapsync exited with code %d: %s", e.ExitCode, e.LogTail)
}
