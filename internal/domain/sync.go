package domain

import "fmt"

// SyncJob describes one mailbox migration between two IMAP endpoints.
// Host1 is the source, host2 the destination; passwords are never
// serialized.
type SyncJob struct {
	Host1     string `json:"host1"`
	Port1     int    `json:"port1,omitempty"`
	User1     string `json:"user1"`
	Password1 string `json:"-"`
	SSL1      bool   `json:"ssl1"`
	Host2     string `json:"host2"`
	Port2     int    `json:"port2,omitempty"`
	User2     string `json:"user2"`
	Password2 string `json:"-"`
	SSL2      bool   `json:"ssl2"`
}

// Describe returns a credential-free label for logs and progress lines.
func (j SyncJob) Describe() string {
	return fmt.Sprintf("%s@%s -> %s@%s", j.User1, j.Host1, j.User2, j.Host2)
}

// SyncResult records where a finished transfer wrote its log.
type SyncResult struct {
	Job     SyncJob `json:"job"`
	LogPath string  `json:"log_path,omitempty"`
}
