package cli

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/mrz1836/noncer/internal/output"
)

// signCmd signs a personal message.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var signCmd = &cobra.Command{
	Use:   "sign <message>",
	Short: "Sign a message",
	Long: `Sign a message with the EIP-191 personal message prefix. The signature is
65 bytes, r || s || v with v of 27 or 28. No nonce is involved.

Example:
  noncer sign "hello"`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

// SignResult is the output of sign.
type SignResult struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Text implements output.Texter.
func (r SignResult) Text() string {
	return output.KeyValues(
		[2]string{"address", r.Address},
		[2]string{"message", r.Message},
		[2]string{"signature", r.Signature},
	)
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(signCmd)
}

func runSign(_ *cobra.Command, args []string) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	sig, err := s.allocator.SignMessage([]byte(args[0]))
	if err != nil {
		return err
	}
	return formatter.Print(SignResult{
		Address:   s.allocator.Address().Hex(),
		Message:   args[0],
		Signature: hexutil.Encode(sig),
	})
}
