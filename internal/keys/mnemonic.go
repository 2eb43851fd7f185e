package keys

import (
	"crypto/ecdsa"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// coinTypeETH is the SLIP-44 coin type for Ethereum.
const coinTypeETH = 60

// MaxTypoDistance is the largest edit distance offered as a correction.
const MaxTypoDistance = 2

var (
	whitespaceRegex   = regexp.MustCompile(`\s+`)
	numberedListRegex = regexp.MustCompile(`(?m)^\s*\d+[\.\)\:]\s*`)
	bulletListRegex   = regexp.MustCompile(`(?m)^\s*[-*•]\s*`)
)

// NormalizeMnemonic lowercases a pasted phrase and strips list numbering,
// bullets and commas.
func NormalizeMnemonic(input string) string {
	input = strings.ToLower(input)
	input = numberedListRegex.ReplaceAllString(input, " ")
	input = bulletListRegex.ReplaceAllString(input, " ")
	input = strings.ReplaceAll(input, ",", " ")
	input = whitespaceRegex.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}

// LooksLikeMnemonic reports whether input has a BIP39 word count.
func LooksLikeMnemonic(input string) bool {
	switch len(strings.Fields(NormalizeMnemonic(input))) {
	case 12, 15, 18, 21, 24:
		return true
	default:
		return false
	}
}

// ValidateMnemonic checks word count, vocabulary and checksum. Unknown words
// are reported with their nearest BIP39 word when one is close.
func ValidateMnemonic(mnemonic string) error {
	normalized := NormalizeMnemonic(mnemonic)
	if !LooksLikeMnemonic(normalized) {
		return noncererr.WithDetails(noncererr.ErrInvalidMnemonic, map[string]string{
			"words": strconv.Itoa(len(strings.Fields(normalized))),
		})
	}

	if typos := DetectTypos(normalized); len(typos) > 0 {
		details := make(map[string]string, len(typos))
		for _, typo := range typos {
			key := fmt.Sprintf("word_%d", typo.Index+1)
			if typo.Suggestion != "" {
				details[key] = fmt.Sprintf("%q, did you mean %q?", typo.Word, typo.Suggestion)
			} else {
				details[key] = fmt.Sprintf("%q is not a BIP39 word", typo.Word)
			}
		}
		return noncererr.WithDetails(noncererr.ErrInvalidMnemonic, details)
	}

	if !bip39.IsMnemonicValid(normalized) {
		return noncererr.WithDetails(noncererr.ErrInvalidMnemonic, map[string]string{
			"reason": "checksum mismatch",
		})
	}
	return nil
}

// Typo is a mnemonic word missing from the BIP39 list.
type Typo struct {
	Index      int    // 0-based word position
	Word       string // word as given
	Suggestion string // closest BIP39 word, empty if none is close
}

// DetectTypos lists the words of mnemonic that are not BIP39 words.
func DetectTypos(mnemonic string) []Typo {
	var typos []Typo
	for i, word := range strings.Fields(NormalizeMnemonic(mnemonic)) {
		if _, ok := bip39.GetWordIndex(word); ok {
			continue
		}
		typos = append(typos, Typo{Index: i, Word: word, Suggestion: SuggestWord(word)})
	}
	return typos
}

// SuggestWord returns the BIP39 word closest to input by Levenshtein
// distance, or "" when none is within MaxTypoDistance.
func SuggestWord(input string) string {
	input = strings.ToLower(input)

	best := math.MaxInt
	var suggestion string
	for _, word := range bip39.GetWordList() {
		d := levenshtein.ComputeDistance(input, word)
		if d == 0 {
			return word
		}
		if d < best {
			best, suggestion = d, word
		}
	}
	if best <= MaxTypoDistance {
		return suggestion
	}
	return ""
}

// DerivationPath returns the BIP44 Ethereum path for an address index.
func DerivationPath(index uint32) string {
	return fmt.Sprintf("m/44'/%d'/0'/0/%d", coinTypeETH, index)
}

// DeriveKey derives the private key at m/44'/60'/0'/0/index from mnemonic.
func DeriveKey(mnemonic, passphrase string, index uint32) (*ecdsa.PrivateKey, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(NormalizeMnemonic(mnemonic), passphrase)
	defer Zero(seed)

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, noncererr.WithCause(noncererr.ErrInvalidKey, err)
	}

	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + coinTypeETH,
		bip32.FirstHardenedChild,
		0,
		index,
	}
	for _, child := range path {
		if key, err = key.NewChildKey(child); err != nil {
			return nil, noncererr.WithDetails(noncererr.WithCause(noncererr.ErrInvalidKey, err), map[string]string{
				"path": DerivationPath(index),
			})
		}
	}

	if len(key.Key) > 32 {
		return nil, noncererr.ErrInvalidKey
	}
	raw := make([]byte, 32)
	copy(raw[32-len(key.Key):], key.Key)
	Zero(key.Key)
	defer Zero(raw)

	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, noncererr.WithCause(noncererr.ErrInvalidKey, err)
	}
	return priv, nil
}
