package cli

import (
	"github.com/spf13/cobra"

	"github.com/mrz1836/noncer/internal/output"
)

// addressCmd prints the signing address.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Show the signing address",
	Long: `Show the EIP-55 checksummed address of the configured signing key.

Example:
  NONCER_KEY=0x... noncer address
  noncer address --key-file ~/.noncer/key.age`,
	Args: cobra.NoArgs,
	RunE: runAddress,
}

// AddressResult is the output of the address command.
type AddressResult struct {
	Address string `json:"address"`
}

// Text implements output.Texter.
func (r AddressResult) Text() string {
	return r.Address
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(addressCmd)
}

func runAddress(_ *cobra.Command, _ []string) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	return formatter.Print(AddressResult{Address: s.allocator.Address().Hex()})
}

var _ output.Texter = AddressResult{}
