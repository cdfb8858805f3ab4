package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMailboxAccountEligibility(t *testing.T) {
	base := func() *MailboxAccount {
		return &MailboxAccount{
			IsActive:         true,
			AutoFetchEnabled: true,
			Protocol:         ProtocolConfig{Host: "imap.example.com"},
		}
	}

	t.Run("active account with host is eligible", func(t *testing.T) {
		assert.True(t, base().Eligible())
	})

	t.Run("blank host is not eligible", func(t *testing.T) {
		acc := base()
		acc.Protocol.Host = "   "
		assert.False(t, acc.Eligible())
	})

	t.Run("inactive or auto fetch disabled is not eligible", func(t *testing.T) {
		acc := base()
		acc.IsActive = false
		assert.False(t, acc.Eligible())

		acc = base()
		acc.AutoFetchEnabled = false
		assert.False(t, acc.Eligible())
	})

	t.Run("nil account", func(t *testing.T) {
		var acc *MailboxAccount
		assert.False(t, acc.Eligible())
		assert.False(t, acc.DueAt(time.Now()))
	})
}

func TestMailboxAccountDueAt(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Minute)

	acc := &MailboxAccount{FetchInterval: 2 * time.Minute, LastFetchAt: &last}
	assert.False(t, acc.DueAt(now))
	assert.True(t, acc.DueAt(now.Add(time.Minute)))

	acc.FetchInterval = 0
	assert.True(t, acc.DueAt(now))

	acc = &MailboxAccount{FetchInterval: time.Hour}
	assert.True(t, acc.DueAt(now), "never fetched accounts are always due")
}

func TestScheduledJobCloneIsDeep(t *testing.T) {
	run := time.Now()
	msg := "boom"
	job := &ScheduledJob{Slug: "x", Config: map[string]any{"a": 1}, LastRunAt: &run, ErrorMessage: &msg}

	clone := job.Clone()
	clone.Config["a"] = 2
	*clone.ErrorMessage = "changed"

	assert.Equal(t, 1, job.Config["a"])
	assert.Equal(t, "boom", *job.ErrorMessage)
	assert.Nil(t, (*ScheduledJob)(nil).Clone())
}
