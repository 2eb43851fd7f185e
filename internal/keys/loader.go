package keys

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// Key material formats.
const (
	FormatAuto     = ""
	FormatHex      = "hex"
	FormatAge      = "age"
	FormatMnemonic = "mnemonic"
)

// Source describes where a signing key comes from. Exactly one of Value and
// File is set.
type Source struct {
	Value string // inline hex key or mnemonic
	File  string // path to a hex, mnemonic or age file
	// Format forces the encoding; FormatAuto detects it.
	Format string
	// Passphrase decrypts an age file.
	Passphrase string
	// MnemonicPassphrase is the optional BIP39 passphrase.
	MnemonicPassphrase string
	// Index selects the address under m/44'/60'/0'/0.
	Index uint32
}

// Load reads the key described by src.
func Load(src Source) (*ecdsa.PrivateKey, error) {
	var material *SecureBytes
	switch {
	case src.Value != "" && src.File != "":
		return nil, noncererr.WithDetails(noncererr.ErrInvalidInput, map[string]string{
			"key": "set either an inline key or a key file, not both",
		})
	case src.Value != "":
		material = NewSecureBytes([]byte(src.Value))
	case src.File != "":
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, noncererr.WithDetails(noncererr.WithCause(noncererr.ErrNotFound, err), map[string]string{
				"file": src.File,
			})
		}
		material = NewSecureBytes(data)
		Zero(data)
	default:
		return nil, noncererr.ErrKeyRequired
	}
	defer material.Destroy()

	format := src.Format
	if format == FormatAuto {
		format = detectFormat(material.Bytes())
	}

	switch format {
	case FormatAge:
		plain, err := Decrypt(material.Bytes(), src.Passphrase)
		if err != nil {
			return nil, err
		}
		defer plain.Destroy()
		inner := detectFormat(plain.Bytes())
		if inner == FormatAge {
			return nil, noncererr.WithDetails(noncererr.ErrInvalidKey, map[string]string{"reason": "nested age file"})
		}
		return parse(plain.Bytes(), inner, src)
	case FormatHex, FormatMnemonic:
		return parse(material.Bytes(), format, src)
	default:
		return nil, noncererr.WithDetails(noncererr.ErrInvalidInput, map[string]string{"format": format})
	}
}

func parse(material []byte, format string, src Source) (*ecdsa.PrivateKey, error) {
	if format == FormatMnemonic {
		return DeriveKey(string(material), src.MnemonicPassphrase, src.Index)
	}
	return ParseHexKey(string(material))
}

// ParseHexKey parses a 32-byte secp256k1 key in hex, with or without 0x.
func ParseHexKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return nil, noncererr.WithDetails(noncererr.ErrInvalidKey, map[string]string{"reason": "expected 64 hex characters"})
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, noncererr.WithDetails(noncererr.WithCause(noncererr.ErrInvalidKey, err), map[string]string{"reason": "not hex"})
	}
	defer Zero(raw)

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, noncererr.WithCause(noncererr.ErrInvalidKey, err)
	}
	return key, nil
}

func detectFormat(material []byte) string {
	if IsAgeFile(material) {
		return FormatAge
	}
	if LooksLikeMnemonic(string(bytes.TrimSpace(material))) {
		return FormatMnemonic
	}
	return FormatHex
}
