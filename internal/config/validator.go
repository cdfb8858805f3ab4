package config

import (
	"fmt"
	"log/slog"
	"strings"
)

type SecretValidator struct {
	config   *Config
	errors   []string
	warnings []string
}

func NewSecretValidator(cfg *Config) *SecretValidator {
	return &SecretValidator{
		config:   cfg,
		errors:   []string{},
		warnings: []string{},
	}
}

// Validate checks the vault key and the ops bearer secret. In production
// weak values are errors; elsewhere they are logged as warnings.
func (v *SecretValidator) Validate(logger *slog.Logger) error {
	isProduction := v.config.App.IsProduction()

	v.validateVaultSecret(isProduction)
	v.validateJWTSecret(isProduction)

	if len(v.errors) > 0 {
		return fmt.Errorf("secret validation failed:\n%s", strings.Join(v.errors, "\n"))
	}

	if len(v.warnings) > 0 && logger != nil {
		for _, w := range v.warnings {
			logger.Warn("insecure configuration", "detail", w)
		}
	}
	return nil
}

func (v *SecretValidator) validateVaultSecret(isProduction bool) {
	c := v.config.Crypto
	if c.KeyringService != "" {
		return
	}
	if c.Secret == "" {
		v.addError("crypto.secret is not set and no keyring is configured", isProduction)
		return
	}
	if len(c.Secret) < 16 {
		v.addError("crypto.secret should be at least 16 characters long", isProduction)
	}
}

func (v *SecretValidator) validateJWTSecret(isProduction bool) {
	ops := v.config.Ops
	if !ops.Enabled {
		return
	}
	secret := ops.JWTSecret
	if secret == "" {
		v.addError("ops.jwt_secret is not set; the ops API is unauthenticated", isProduction)
		return
	}

	// In development/test, allow prefixed secrets
	if !isProduction && (strings.HasPrefix(secret, "dev-") || strings.HasPrefix(secret, "test-")) {
		return
	}

	if len(secret) < 32 {
		v.addError("ops.jwt_secret must be at least 32 characters long", isProduction)
	}
}

func (v *SecretValidator) addError(message string, isProduction bool) {
	if isProduction {
		v.errors = append(v.errors, "   "+message)
	} else {
		v.warnings = append(v.warnings, message)
	}
}

func ValidateSecrets(cfg *Config, logger *slog.Logger) error {
	return NewSecretValidator(cfg).Validate(logger)
}
