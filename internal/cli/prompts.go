package cli

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/mrz1836/noncer/internal/keys"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// minPassphraseLen is the shortest passphrase accepted for new key files.
const minPassphraseLen = 8

// Prompt functions, replaced by tests.
//
//nolint:gochecknoglobals // swappable for tests
var (
	promptPasswordFn    = promptPassword
	promptNewPasswordFn = promptNewPassword
)

// promptPassword prompts on stderr and reads a line without echo.
// The caller is responsible for zeroing the returned bytes after use.
func promptPassword(prompt string) ([]byte, error) {
	_, _ = fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(os.Stdin.Fd())) //nolint:gosec // G115: Fd() fits in int
	_, _ = fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return password, nil
}

// promptNewPassword prompts for a new passphrase with confirmation.
// The caller is responsible for zeroing the returned bytes after use.
func promptNewPassword() ([]byte, error) {
	password, err := promptPasswordFn("New key file passphrase: ")
	if err != nil {
		return nil, err
	}

	if len(password) < minPassphraseLen {
		keys.Zero(password)
		return nil, noncererr.WithSuggestion(
			noncererr.ErrInvalidInput,
			fmt.Sprintf("passphrase must be at least %d characters", minPassphraseLen),
		)
	}

	confirm, err := promptPasswordFn("Confirm passphrase: ")
	if err != nil {
		keys.Zero(password)
		return nil, err
	}
	defer keys.Zero(confirm)

	if string(password) != string(confirm) {
		keys.Zero(password)
		return nil, noncererr.WithSuggestion(
			noncererr.ErrInvalidInput,
			"passphrases do not match",
		)
	}

	return password, nil
}
