package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/vault"
)

func TestAccountFromModelDefaults(t *testing.T) {
	acct := AccountFromModel(&models.MailboxAccount{
		ID:           "acc-42",
		TenantID:     "tenant-7",
		EmailAddress: "support@example.com",
		Protocol: models.ProtocolConfig{
			Type:            "IMAPS",
			Host:            " mail.example ",
			EncryptedSecret: "secret",
		},
	}, nil)

	require.Equal(t, "acc-42", acct.ID)
	require.Equal(t, "tenant-7", acct.TenantID)
	require.Equal(t, "imaps", acct.Type)
	require.Equal(t, "mail.example", acct.Host)
	require.Equal(t, "support@example.com", acct.Username)
	require.Equal(t, "secret", string(acct.Password))

	require.Equal(t, "imap", AccountFromModel(&models.MailboxAccount{}, nil).Type)
	require.Equal(t, "", AccountFromModel(nil, nil).ID)
}

func TestAccountFromModelDecryptsThroughVault(t *testing.T) {
	v, err := vault.New("adapter-secret")
	require.NoError(t, err)

	model := &models.MailboxAccount{ID: "a", Protocol: models.ProtocolConfig{Type: "pop3", Username: "agent"}}
	require.NoError(t, v.WriteSecret(model, vault.Protocol, "p@ss"))

	acct := AccountFromModel(model, v)
	require.Equal(t, "p@ss", string(acct.Password))
	require.Equal(t, "agent", acct.Username)
}
