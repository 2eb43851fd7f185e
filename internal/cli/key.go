package cli

import (
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mrz1836/go-sanitize"
	"github.com/spf13/cobra"

	"github.com/mrz1836/noncer/internal/config"
	"github.com/mrz1836/noncer/internal/keys"
	"github.com/mrz1836/noncer/internal/output"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// keyCmd is the parent command for key file operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the signing key file",
}

// keyEncryptCmd writes the configured key to an age file.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var keyEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt the signing key into an age file",
	Long: `Read the signing key from NONCER_KEY or --key-file and write it to --out
as an age file protected by a passphrase. The passphrase is read from
NONCER_PASSPHRASE or prompted for twice.

Without --out the file is written to <home>/keys/<name>.age, where the name
defaults to the key's address.

Mnemonic keys are stored as the derived private key for --index.

Example:
  NONCER_KEY=0x... noncer key encrypt --out ~/.noncer/key.age
  noncer key encrypt --key-file seed.txt --index 2 --name hot-wallet`,
	Args: cobra.NoArgs,
	RunE: runKeyEncrypt,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	keyEncryptOut   string
	keyEncryptName  string
	keyEncryptForce bool
)

// keyDirName is the directory under the noncer home holding named key files.
const keyDirName = "keys"

// KeyFileResult is the output of key encrypt.
type KeyFileResult struct {
	Address string `json:"address"`
	File    string `json:"file"`
}

// Text implements output.Texter.
func (r KeyFileResult) Text() string {
	return output.KeyValues(
		[2]string{"address", r.Address},
		[2]string{"file", r.File},
	)
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyEncryptCmd)

	keyEncryptCmd.Flags().StringVar(&keyEncryptOut, "out", "", "path of the age file to write (default: <home>/keys/<name>.age)")
	keyEncryptCmd.Flags().StringVar(&keyEncryptName, "name", "", "file name under <home>/keys when --out is not set (default: the address)")
	keyEncryptCmd.Flags().BoolVar(&keyEncryptForce, "force", false, "overwrite an existing file")
}

func runKeyEncrypt(_ *cobra.Command, _ []string) error {
	key, err := loadSigningKey()
	if err != nil {
		return err
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	path, err := keyFilePath(keyEncryptOut, keyEncryptName, address)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !keyEncryptForce {
		return noncererr.WithSuggestion(
			noncererr.WithDetails(noncererr.ErrInvalidInput, map[string]string{"file": path}),
			"file exists; use --force to overwrite",
		)
	}

	passphrase, err := newPassphrase()
	if err != nil {
		return err
	}

	if err := keys.EncryptKeyFile(path, key, passphrase); err != nil {
		return err
	}
	logger.Debug("wrote encrypted key file %s", path)

	return formatter.Print(KeyFileResult{
		Address: address,
		File:    path,
	})
}

// keyFilePath resolves where key encrypt writes. An explicit out path wins;
// otherwise the name, or the address when no name is given, is cleaned into a
// file name under the home keys directory.
func keyFilePath(out, name, address string) (string, error) {
	if out != "" {
		return config.ExpandHome(out)
	}

	if name == "" {
		name = address
	}
	clean := sanitize.PathName(name)
	if clean == "" {
		return "", noncererr.WithDetails(noncererr.ErrInvalidInput, map[string]string{
			"name": name,
		})
	}
	return filepath.Join(cfg.Home, keyDirName, clean+".age"), nil
}

func newPassphrase() (string, error) {
	if v := os.Getenv(config.EnvPassphrase); v != "" {
		return v, nil
	}
	pw, err := promptNewPasswordFn()
	if err != nil {
		return "", err
	}
	defer keys.Zero(pw)
	return string(pw), nil
}
