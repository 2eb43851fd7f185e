package keys

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"io"

	"filippo.io/age"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mrz1836/noncer/internal/fileutil"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// ageHeader starts every age file.
const ageHeader = "age-encryption.org/v1"

// scryptWorkFactor is the scrypt cost exponent for new files. Tests lower it.
//
//nolint:gochecknoglobals // overridden in tests
var scryptWorkFactor = 18

// Encrypt encrypts plaintext to a passphrase with age's scrypt recipient.
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, noncererr.WithDetails(noncererr.ErrInvalidInput, map[string]string{"passphrase": "required"})
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, err
	}
	recipient.SetWorkFactor(scryptWorkFactor)

	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, recipient)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decrypt decrypts an age file encrypted to passphrase into SecureBytes.
func Decrypt(ciphertext []byte, passphrase string) (*SecureBytes, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, noncererr.WithCause(noncererr.ErrDecryptionFailed, err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, noncererr.WithCause(noncererr.ErrDecryptionFailed, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, noncererr.WithCause(noncererr.ErrDecryptionFailed, err)
	}

	sb := NewSecureBytes(plaintext)
	Zero(plaintext)
	return sb, nil
}

// IsAgeFile reports whether data looks like an age file.
func IsAgeFile(data []byte) bool {
	return bytes.HasPrefix(data, []byte(ageHeader))
}

// EncryptKeyFile writes key to path as an age file holding its hex encoding.
func EncryptKeyFile(path string, key *ecdsa.PrivateKey, passphrase string) error {
	raw := crypto.FromECDSA(key)
	encoded := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(encoded, raw)
	defer Zero(raw)
	defer Zero(encoded)

	ciphertext, err := Encrypt(encoded, passphrase)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, ciphertext, 0o600)
}
