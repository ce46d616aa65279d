package store

import (
	"strings"

	"filippo.io/age"
	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"
)

// ErrSecretNotFound marks lookups of secrets that are not in the keyring.
var ErrSecretNotFound = errors.New("secret not found")

// APIKeyName is the keyring slot for the backend API key.
const APIKeyName = "api_key"

const dataKeyName = "data_key"

// Secrets reads and writes named secrets in the OS keyring, namespaced by
// application. The keyring service for a secret called "data_key" in app
// "mangiafuoco" is "mangiafuoco/data_key".
type Secrets struct {
	app string
}

func NewSecrets(app string) *Secrets {
	return &Secrets{app: app}
}

func (s *Secrets) service(name string) string {
	return s.app + "/" + name
}

func (s *Secrets) Get(name string) (string, error) {
	value, err := keyring.Get(s.service(name), name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", errors.Wrap(ErrSecretNotFound, name)
		}
		return "", errors.Wrapf(err, "could not read secret %s", name)
	}
	return value, nil
}

func (s *Secrets) Set(name, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return errors.Errorf("secret %s cannot be empty", name)
	}
	if err := keyring.Set(s.service(name), name, trimmed); err != nil {
		return errors.Wrapf(err, "could not store secret %s", name)
	}
	return nil
}

func (s *Secrets) Delete(name string) error {
	if err := keyring.Delete(s.service(name), name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return errors.Wrap(ErrSecretNotFound, name)
		}
		return errors.Wrapf(err, "could not delete secret %s", name)
	}
	return nil
}

// DataIdentity returns the age identity used for at-rest encryption,
// generating a fresh one and storing it in the keyring on first use.
func (s *Secrets) DataIdentity() (*age.X25519Identity, error) {
	existing, err := s.Get(dataKeyName)
	if err == nil {
		identity, err := age.ParseX25519Identity(existing)
		if err != nil {
			return nil, errors.Wrap(err, "stored data key is not a valid age identity")
		}
		return identity, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return nil, err
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, errors.Wrap(err, "could not generate age identity")
	}
	if err := s.Set(dataKeyName, identity.String()); err != nil {
		return nil, err
	}
	return identity, nil
}
