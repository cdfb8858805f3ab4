package models

import (
	"strings"
	"time"
)

// FetchStatus is the outcome of the most recent fetch cycle for an account.
type FetchStatus string

const (
	FetchStatusNever   FetchStatus = "never"
	FetchStatusPending FetchStatus = "pending"
	FetchStatusSuccess FetchStatus = "success"
	FetchStatusError   FetchStatus = "error"
)

// ProtocolConfig holds the inbound connection parameters of a mailbox.
type ProtocolConfig struct {
	Type            string `json:"type"` // imap, imaps, pop3, pop3s
	Host            string `json:"host"`
	Port            int    `json:"port"`
	UseTLS          bool   `json:"use_tls"`
	Username        string `json:"username"`
	EncryptedSecret string `json:"-"`
	Folder          string `json:"folder,omitempty"`
}

// OutboundConfig holds the outbound (SMTP) parameters of a mailbox.
type OutboundConfig struct {
	Host            string `json:"host,omitempty"`
	Port            int    `json:"port,omitempty"`
	Username        string `json:"username,omitempty"`
	EncryptedSecret string `json:"-"`
}

// MailboxAccount is a tenant's externally hosted mailbox and its fetch state.
type MailboxAccount struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	EmailAddress     string         `json:"email_address"`
	Protocol         ProtocolConfig `json:"protocol"`
	Outbound         OutboundConfig `json:"outbound"`
	IsActive         bool           `json:"is_active"`
	AutoFetchEnabled bool           `json:"auto_fetch_enabled"`
	FetchInterval    time.Duration  `json:"fetch_interval"`
	LastFetchAt      *time.Time     `json:"last_fetch_at,omitempty"`
	LastFetchStatus  FetchStatus    `json:"last_fetch_status"`
	LastFetchError   *string        `json:"last_fetch_error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// HasHost reports whether a non-blank inbound host is configured.
func (a *MailboxAccount) HasHost() bool {
	return a != nil && strings.TrimSpace(a.Protocol.Host) != ""
}

// Eligible reports whether the account takes part in scheduled passes.
func (a *MailboxAccount) Eligible() bool {
	return a != nil && a.IsActive && a.AutoFetchEnabled && a.HasHost()
}

// DueAt reports whether the account's fetch interval has elapsed at now.
func (a *MailboxAccount) DueAt(now time.Time) bool {
	if a == nil {
		return false
	}
	if a.FetchInterval <= 0 || a.LastFetchAt == nil {
		return true
	}
	return now.Sub(*a.LastFetchAt) >= a.FetchInterval
}

// FetchState is the write contract the orchestrator uses for account status.
type FetchState struct {
	Status FetchStatus
	At     time.Time
	Error  string
}
