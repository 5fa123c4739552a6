package vault

import (
	"fmt"
	"maps"
	"strings"

	"github.com/rdeforest/ClodWeave/internal/store"
)

// RefPrefix marks a config string as a reference to a stored secret.
const RefPrefix = "secret:"

// SecretStore persists sealed secrets.
type SecretStore interface {
	SaveSecret(sec *store.Secret) error
	GetSecret(name string) (*store.Secret, error)
}

// Secrets seals values into a SecretStore and resolves references.
type Secrets struct {
	vault *Vault
	store SecretStore
}

func NewSecrets(v *Vault, s SecretStore) *Secrets {
	return &Secrets{vault: v, store: s}
}

func (s *Secrets) Put(name, description string, value []byte) error {
	if name == "" {
		return fmt.Errorf("secret name is required")
	}
	ct, nonce, err := s.vault.Seal(name, value)
	if err != nil {
		return err
	}
	return s.store.SaveSecret(&store.Secret{
		Name:        name,
		Description: description,
		Value:       ct,
		Nonce:       nonce,
	})
}

func (s *Secrets) Get(name string) ([]byte, error) {
	sec, err := s.store.GetSecret(name)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, fmt.Errorf("secret %s not found", name)
	}
	return s.vault.Open(name, sec.Value, sec.Nonce)
}

// Resolve returns a copy of cfg with every "secret:<name>" string value
// replaced by the secret's plaintext. Nested maps and lists are walked.
func (s *Secrets) Resolve(cfg map[string]any) (map[string]any, error) {
	out, err := s.resolve(cfg)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.(map[string]any), nil
}

func (s *Secrets) resolve(v any) (any, error) {
	switch val := v.(type) {
	case string:
		name, ok := strings.CutPrefix(val, RefPrefix)
		if !ok {
			return val, nil
		}
		plain, err := s.Get(name)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", val, err)
		}
		return string(plain), nil
	case map[string]any:
		if val == nil {
			return nil, nil
		}
		out := maps.Clone(val)
		for k, item := range val {
			r, err := s.resolve(item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := s.resolve(item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

// HasRefs reports whether cfg contains any secret reference.
func HasRefs(cfg map[string]any) bool {
	var walk func(v any) bool
	walk = func(v any) bool {
		switch val := v.(type) {
		case string:
			return strings.HasPrefix(val, RefPrefix)
		case map[string]any:
			for _, item := range val {
				if walk(item) {
					return true
				}
			}
		case []any:
			for _, item := range val {
				if walk(item) {
					return true
				}
			}
		}
		return false
	}
	return walk(cfg)
}
