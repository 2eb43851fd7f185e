package cli

import (
	"cmp"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/noncer/internal/chain"
	"github.com/mrz1836/noncer/internal/chain/eth"
	"github.com/mrz1836/noncer/internal/output"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// sendCmd submits transactions through the allocator.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a transaction with a coordinated nonce",
	Long: `Sign and submit a transaction. Without --nonce the allocator assigns the
next nonce shared by every process using the key. With --nonce the given
value is used and becomes the new starting point: the next automatic nonce
is one higher.

Gas prices are given in gwei and values in ether. Choose --gas-price for a
legacy transaction or --fee-cap and --tip-cap for an EIP-1559 transaction.

--repeat sends that many copies concurrently, each with its own nonce.
--dry-run signs without allocating a nonce or submitting.

Example:
  noncer send --to 0x... --value 0.01 --gas-price 20
  noncer send --to 0x... --value 0 --fee-cap 40 --tip-cap 2 --data 0xa9059cbb...
  noncer send --to 0x... --value 0.01 --gas-price 20 --nonce 17`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	sendTo       string
	sendValue    string
	sendGas      uint64
	sendGasPrice string
	sendFeeCap   string
	sendTipCap   string
	sendData     string
	sendNonce    uint64
	sendRepeat   int
	sendDryRun   bool
)

// SendResult describes one submitted transaction.
type SendResult struct {
	Hash  string `json:"hash"`
	From  string `json:"from"`
	Nonce uint64 `json:"nonce"`
}

// SendResults is the output of send.
type SendResults struct {
	Transactions []SendResult `json:"transactions"`
}

// Text implements output.Texter.
func (r SendResults) Text() string {
	var sb strings.Builder
	for i, tx := range r.Transactions {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(output.KeyValues(
			[2]string{"hash", tx.Hash},
			[2]string{"from", tx.From},
			[2]string{"nonce", strconv.FormatUint(tx.Nonce, 10)},
		))
	}
	return sb.String()
}

// SignedTxResult is the output of send --dry-run.
type SignedTxResult struct {
	Hash  string `json:"hash"`
	Nonce uint64 `json:"nonce"`
	Raw   string `json:"raw"`
}

// Text implements output.Texter.
func (r SignedTxResult) Text() string {
	return output.KeyValues(
		[2]string{"hash", r.Hash},
		[2]string{"nonce", strconv.FormatUint(r.Nonce, 10)},
		[2]string{"raw", r.Raw},
	)
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(sendCmd)

	flags := sendCmd.Flags()
	flags.StringVar(&sendTo, "to", "", "recipient address (omit to create a contract)")
	flags.StringVar(&sendValue, "value", "0", "value in ether")
	flags.Uint64Var(&sendGas, "gas", 21000, "gas limit")
	flags.StringVar(&sendGasPrice, "gas-price", "", "legacy gas price in gwei")
	flags.StringVar(&sendFeeCap, "fee-cap", "", "EIP-1559 max fee per gas in gwei")
	flags.StringVar(&sendTipCap, "tip-cap", "", "EIP-1559 priority fee per gas in gwei")
	flags.StringVar(&sendData, "data", "", "hex call data")
	flags.Uint64Var(&sendNonce, "nonce", 0, "explicit nonce, overriding the allocator")
	flags.IntVar(&sendRepeat, "repeat", 1, "number of transactions to send concurrently")
	flags.BoolVar(&sendDryRun, "dry-run", false, "sign but do not submit")
}

func runSend(cmd *cobra.Command, _ []string) error {
	req, err := buildTxRequest(cmd)
	if err != nil {
		return err
	}
	if sendRepeat < 1 {
		return noncererr.WithDetails(noncererr.ErrInvalidCount, map[string]string{"repeat": strconv.Itoa(sendRepeat)})
	}
	if sendRepeat > 1 && (req.Nonce != nil || sendDryRun) {
		return noncererr.WithSuggestion(noncererr.ErrInvalidInput, "--repeat cannot be combined with --nonce or --dry-run")
	}

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if sendDryRun {
		raw, err := s.allocator.SignTransaction(ctx, req)
		if err != nil {
			return err
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return err
		}
		return formatter.Print(SignedTxResult{Hash: tx.Hash().Hex(), Nonce: tx.Nonce(), Raw: hexutil.Encode(raw)})
	}

	var (
		mu      sync.Mutex
		results = make([]SendResult, 0, sendRepeat)
	)
	g, gctx := errgroup.WithContext(ctx)
	for range sendRepeat {
		g.Go(func() error {
			handle, err := s.allocator.SendTransaction(gctx, req)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, SendResult{Hash: handle.Hash.Hex(), From: handle.From.Hex(), Nonce: handle.Nonce})
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()

	// Report what went out even when a later submission failed.
	if len(results) > 0 {
		slices.SortFunc(results, func(a, b SendResult) int { return cmp.Compare(a.Nonce, b.Nonce) })
		if printErr := formatter.Print(SendResults{Transactions: results}); printErr != nil && err == nil {
			err = printErr
		}
	}
	if err != nil && len(results) > 0 {
		output.Warnf(cmd.ErrOrStderr(), "%d of %d transactions sent; run 'noncer nonce reset' once pending transactions settle", len(results), sendRepeat)
	}
	return err
}

func buildTxRequest(cmd *cobra.Command) (*chain.TxRequest, error) {
	req := &chain.TxRequest{Gas: sendGas}

	if sendTo != "" {
		to, err := eth.ParseAddress(sendTo)
		if err != nil {
			return nil, err
		}
		req.To = &to
	}

	value, err := chain.ParseAmount(sendValue, chain.DecimalsEther)
	if err != nil {
		return nil, err
	}
	req.Value = value

	if req.GasPrice, err = parseGwei("gas-price", sendGasPrice); err != nil {
		return nil, err
	}
	if req.GasFeeCap, err = parseGwei("fee-cap", sendFeeCap); err != nil {
		return nil, err
	}
	if req.GasTipCap, err = parseGwei("tip-cap", sendTipCap); err != nil {
		return nil, err
	}
	if req.GasTipCap != nil && req.GasFeeCap == nil {
		return nil, noncererr.WithSuggestion(noncererr.ErrInvalidGasPrice, "--tip-cap requires --fee-cap")
	}

	if sendData != "" {
		data, err := hexutil.Decode(ensureHexPrefix(sendData))
		if err != nil {
			return nil, noncererr.WithDetails(noncererr.WithCause(noncererr.ErrInvalidInput, err), map[string]string{"data": "not hex"})
		}
		req.Data = data
	}

	if cmd.Flags().Changed("nonce") {
		n := sendNonce
		req.Nonce = &n
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func parseGwei(flag, v string) (*big.Int, error) {
	if v == "" {
		return nil, nil //nolint:nilnil // unset flag
	}
	wei, err := chain.ParseAmount(v, chain.DecimalsGwei)
	if err != nil {
		return nil, noncererr.WithDetails(noncererr.ErrInvalidGasPrice, map[string]string{flag: v})
	}
	return wei, nil
}

func ensureHexPrefix(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return "0x" + s
}
