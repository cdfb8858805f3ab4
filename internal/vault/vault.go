// Package vault encrypts mailbox credentials at rest.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

const (
	keySize   = 32
	separator = ":"
)

// ErrMalformedCiphertext is returned by DecryptStrict for values that are not
// a valid envelope produced by Encrypt.
var ErrMalformedCiphertext = errors.New("vault: malformed ciphertext")

// ErrEmptySecret is returned when no encryption secret is configured.
var ErrEmptySecret = errors.New("vault: empty secret")

// Which selects one of the two credential slots on a mailbox account.
type Which string

const (
	Protocol Which = "protocol"
	Outbound Which = "outbound"
)

// Vault encrypts and decrypts credential strings with a process-wide key.
type Vault struct {
	key []byte
}

// New builds a vault from the configured secret. The secret is zero-padded or
// truncated to 32 bytes.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, keySize)
	copy(key, secret)
	return &Vault{key: key}, nil
}

// Encrypt returns ivHex:cipherHex for plaintext. A fresh IV is drawn for every call.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + separator + hex.EncodeToString(out), nil
}

// Decrypt returns the plaintext for an envelope. Values that are not a valid
// envelope are returned unchanged so legacy plaintext rows keep working.
func (v *Vault) Decrypt(ciphertext string) string {
	plain, err := v.DecryptStrict(ciphertext)
	if err != nil {
		return ciphertext
	}
	return plain
}

// DecryptStrict is the fail-closed variant of Decrypt.
func (v *Vault) DecryptStrict(ciphertext string) (string, error) {
	ivHex, dataHex, ok := strings.Cut(ciphertext, separator)
	if !ok {
		return "", ErrMalformedCiphertext
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrMalformedCiphertext
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrMalformedCiphertext
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: create cipher: %w", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// IsEncrypted reports whether value has the ivHex:cipherHex envelope shape.
func IsEncrypted(value string) bool {
	ivHex, dataHex, ok := strings.Cut(value, separator)
	if !ok || len(ivHex) != aes.BlockSize*2 || dataHex == "" || len(dataHex)%(aes.BlockSize*2) != 0 {
		return false
	}
	if _, err := hex.DecodeString(ivHex); err != nil {
		return false
	}
	_, err := hex.DecodeString(dataHex)
	return err == nil
}

// ReadSecret returns the decrypted credential of the selected slot. It never
// fails; undecryptable values come back as stored.
func (v *Vault) ReadSecret(account *models.MailboxAccount, which Which) string {
	if account == nil {
		return ""
	}
	stored := account.Protocol.EncryptedSecret
	if which == Outbound {
		stored = account.Outbound.EncryptedSecret
	}
	if stored == "" {
		return ""
	}
	return v.Decrypt(stored)
}

// WriteSecret encrypts plaintext into the selected slot of account.
func (v *Vault) WriteSecret(account *models.MailboxAccount, which Which, plaintext string) error {
	if account == nil {
		return errors.New("vault: nil account")
	}
	enc, err := v.Encrypt(plaintext)
	if err != nil {
		return err
	}
	switch which {
	case Protocol:
		account.Protocol.EncryptedSecret = enc
	case Outbound:
		account.Outbound.EncryptedSecret = enc
	default:
		return fmt.Errorf("vault: unknown credential slot %q", which)
	}
	return nil
}

func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, ErrMalformedCiphertext
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, ErrMalformedCiphertext
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrMalformedCiphertext
		}
	}
	return data[:len(data)-n], nil
}
