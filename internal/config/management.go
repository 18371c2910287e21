package config

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// CheckAdminKey verifies whether the candidate matches the configured
// management credential, either the plaintext key or its bcrypt hash.
func CheckAdminKey(cfg *Config, candidate string) bool {
	if cfg == nil || candidate == "" {
		return false
	}
	if cfg.Security.AdminKey != "" &&
		subtle.ConstantTimeCompare([]byte(candidate), []byte(cfg.Security.AdminKey)) == 1 {
		return true
	}
	if cfg.Security.AdminKeyHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.Security.AdminKeyHash), []byte(candidate)); err == nil {
			return true
		}
	}
	return false
}

// AdminKeyValidator returns a closure suitable for middleware validation.
func AdminKeyValidator(cfg *Config) func(string) bool {
	return func(candidate string) bool {
		return CheckAdminKey(cfg, candidate)
	}
}

// ClientKeyValidator validates inbound proxy callers against the configured
// client key list. An empty list accepts everything (auth disabled).
func ClientKeyValidator(cfg *Config) func(string) bool {
	return func(candidate string) bool {
		if cfg == nil || len(cfg.Security.ClientKeys) == 0 {
			return true
		}
		for _, key := range cfg.Security.ClientKeys {
			if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
				return true
			}
		}
		return false
	}
}
