package store

import (
	"bytes"
	"io"

	"filippo.io/age"
	"github.com/pkg/errors"
)

// Codec turns a JSON document into its on-disk representation and back.
type Codec interface {
	Encode(plaintext []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// PlainCodec stores documents as-is.
type PlainCodec struct{}

func (PlainCodec) Encode(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (PlainCodec) Decode(data []byte) ([]byte, error)      { return data, nil }

// AgeCodec encrypts documents to a single age X25519 identity, so store
// files are unreadable without the key held in the OS keyring.
type AgeCodec struct {
	identity *age.X25519Identity
}

func NewAgeCodec(identity *age.X25519Identity) *AgeCodec {
	return &AgeCodec{identity: identity}
}

// KeyringAgeCodec builds an AgeCodec around the identity custodied by the
// OS keyring, generating one on first use.
func KeyringAgeCodec(secrets *Secrets) (*AgeCodec, error) {
	identity, err := secrets.DataIdentity()
	if err != nil {
		return nil, err
	}
	return NewAgeCodec(identity), nil
}

func (c *AgeCodec) Encode(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.identity.Recipient())
	if err != nil {
		return nil, errors.Wrap(err, "could not create age encryptor")
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, errors.Wrap(err, "could not encrypt data")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "could not finalize encryption")
	}
	return buf.Bytes(), nil
}

func (c *AgeCodec) Decode(data []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(data), c.identity)
	if err != nil {
		return nil, errors.Wrap(err, "could not decrypt data")
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not read decrypted data")
	}
	return plaintext, nil
}
