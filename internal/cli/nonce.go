package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mrz1836/noncer/internal/chain"
	"github.com/mrz1836/noncer/internal/output"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// nonceCmd is the parent command for nonce operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var nonceCmd = &cobra.Command{
	Use:   "nonce",
	Short: "Inspect and adjust the shared nonce",
	Long:  `Read, override and advance the nonce shared by every process using the signing key.`,
}

// nonceShowCmd shows the next nonce.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var nonceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the next nonce",
	Long: `Show the next nonce the allocator would hand out.

With --tag pending (the default) this is the chain's pending count when the
baseline was fetched plus the shared delta. With --tag confirmed the count is
read straight from the chain.

Example:
  noncer nonce show
  noncer nonce show --tag confirmed -o json`,
	Args: cobra.NoArgs,
	RunE: runNonceShow,
}

// nonceSetCmd overrides the next nonce.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var nonceSetCmd = &cobra.Command{
	Use:   "set <nonce>",
	Short: "Override the next nonce",
	Long: `Set the next nonce every process will hand out and reset the shared delta.

Use this when you know the correct next nonce out of band, for example after
a submission failed and left a gap.

Example:
  noncer nonce set 42`,
	Args: cobra.ExactArgs(1),
	RunE: runNonceSet,
}

// nonceBumpCmd advances the shared delta.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var nonceBumpCmd = &cobra.Command{
	Use:   "bump",
	Short: "Skip nonces",
	Long: `Advance the shared delta by --count, reserving that many nonces.

Example:
  noncer nonce bump
  noncer nonce bump --count 3`,
	Args: cobra.NoArgs,
	RunE: runNonceBump,
}

// nonceResetCmd resynchronizes with the chain.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var nonceResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Resynchronize with the chain's pending count",
	Long: `Read the chain's pending transaction count and make it the next nonce.

This recovers from nonces that were allocated but never reached the chain.
Run it only while no other process is sending with the same key.

Example:
  noncer nonce reset`,
	Args: cobra.NoArgs,
	RunE: runNonceReset,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	nonceTag       string
	nonceBumpCount int64
)

// NonceResult is the output of the nonce commands.
type NonceResult struct {
	Address string `json:"address"`
	Tag     string `json:"tag,omitempty"`
	Nonce   uint64 `json:"nonce"`
	State   string `json:"state"`
}

// Text implements output.Texter.
func (r NonceResult) Text() string {
	pairs := [][2]string{{"address", r.Address}}
	if r.Tag != "" {
		pairs = append(pairs, [2]string{"tag", r.Tag})
	}
	pairs = append(pairs,
		[2]string{"nonce", strconv.FormatUint(r.Nonce, 10)},
		[2]string{"state", r.State},
	)
	return output.KeyValues(pairs...)
}

// BumpResult is the output of nonce bump.
type BumpResult struct {
	Address string `json:"address"`
	Count   int64  `json:"count"`
	Delta   int64  `json:"delta"`
}

// Text implements output.Texter.
func (r BumpResult) Text() string {
	return output.KeyValues(
		[2]string{"address", r.Address},
		[2]string{"skipped", strconv.FormatInt(r.Count, 10)},
		[2]string{"delta", strconv.FormatInt(r.Delta, 10)},
	)
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(nonceCmd)
	nonceCmd.AddCommand(nonceShowCmd)
	nonceCmd.AddCommand(nonceSetCmd)
	nonceCmd.AddCommand(nonceBumpCmd)
	nonceCmd.AddCommand(nonceResetCmd)

	nonceShowCmd.Flags().StringVar(&nonceTag, "tag", "pending", "count to read: pending, confirmed")
	nonceBumpCmd.Flags().Int64Var(&nonceBumpCount, "count", 1, "number of nonces to skip")
}

func runNonceShow(cmd *cobra.Command, _ []string) error {
	tag, err := chain.ParseTag(nonceTag)
	if err != nil {
		return err
	}

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	n, err := s.allocator.TransactionCount(ctx, tag)
	if err != nil {
		return err
	}
	return formatter.Print(NonceResult{
		Address: s.allocator.Address().Hex(),
		Tag:     tag.String(),
		Nonce:   n,
		State:   s.allocator.State().String(),
	})
}

func runNonceSet(cmd *cobra.Command, args []string) error {
	n, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return noncererr.WithDetails(noncererr.WithCause(noncererr.ErrInvalidNonce, err), map[string]string{
			"nonce": args[0],
		})
	}

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err := s.allocator.SetTransactionCount(ctx, n); err != nil {
		return err
	}
	return formatter.Print(NonceResult{
		Address: s.allocator.Address().Hex(),
		Nonce:   n,
		State:   s.allocator.State().String(),
	})
}

func runNonceBump(cmd *cobra.Command, _ []string) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	delta, err := s.allocator.IncrementTransactionCount(ctx, nonceBumpCount)
	if err != nil {
		return err
	}
	return formatter.Print(BumpResult{
		Address: s.allocator.Address().Hex(),
		Count:   nonceBumpCount,
		Delta:   delta,
	})
}

func runNonceReset(cmd *cobra.Command, _ []string) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	n, err := s.allocator.Resync(ctx)
	if err != nil {
		return err
	}
	return formatter.Print(NonceResult{
		Address: s.allocator.Address().Hex(),
		Nonce:   n,
		State:   s.allocator.State().String(),
	})
}
