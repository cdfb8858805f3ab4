package vault

import (
	"errors"
	"fmt"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// ErrForeignCiphertext marks a stored value that looks encrypted but does not
// decrypt with the current key.
var ErrForeignCiphertext = errors.New("vault: ciphertext does not decrypt with the current key")

// Seal encrypts any plaintext credential left on account in place. It reports
// whether a slot changed. Values that already decrypt are left alone.
func (v *Vault) Seal(account *models.MailboxAccount) (bool, error) {
	if account == nil {
		return false, nil
	}
	changed := false
	for _, which := range []Which{Protocol, Outbound} {
		stored := account.Protocol.EncryptedSecret
		if which == Outbound {
			stored = account.Outbound.EncryptedSecret
		}
		if stored == "" {
			continue
		}
		if IsEncrypted(stored) {
			if _, err := v.DecryptStrict(stored); err != nil {
				return changed, fmt.Errorf("%s secret of account %s: %w", which, account.ID, ErrForeignCiphertext)
			}
			continue
		}
		if err := v.WriteSecret(account, which, stored); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}
