package adapter

import (
	"strings"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/vault"
)

// SecretReader decrypts the credential slots of a mailbox account.
type SecretReader interface {
	ReadSecret(account *models.MailboxAccount, which vault.Which) string
}

// AccountFromModel converts a registry MailboxAccount to the connector payload.
// The inbound secret is decrypted through secrets; a nil reader passes the
// stored value through.
func AccountFromModel(model *models.MailboxAccount, secrets SecretReader) connector.Account {
	if model == nil {
		return connector.Account{}
	}

	accountType := strings.ToLower(strings.TrimSpace(model.Protocol.Type))
	if accountType == "" {
		accountType = "imap"
	}

	password := model.Protocol.EncryptedSecret
	if secrets != nil {
		password = secrets.ReadSecret(model, vault.Protocol)
	}

	username := model.Protocol.Username
	if username == "" {
		username = model.EmailAddress
	}

	return connector.Account{
		ID:       model.ID,
		TenantID: model.TenantID,
		Address:  model.EmailAddress,
		Type:     accountType,
		Host:     strings.TrimSpace(model.Protocol.Host),
		Port:     model.Protocol.Port,
		UseTLS:   model.Protocol.UseTLS,
		Username: username,
		Password: []byte(password),
		Folder:   model.Protocol.Folder,
	}
}
