package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// ParseAddress validates an address string and returns it as a common.Address.
// The 0x prefix is required. All-lowercase and all-uppercase input is accepted
// as non-checksummed; mixed case must carry a correct EIP-55 checksum.
func ParseAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return common.Address{}, noncererr.WithDetails(noncererr.ErrInvalidAddress, map[string]string{
			"address": address,
		})
	}

	parsed := common.HexToAddress(address)
	body := address[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if expected := parsed.Hex(); expected != address {
			return common.Address{}, noncererr.WithDetails(noncererr.ErrInvalidAddress, map[string]string{
				"address":  address,
				"expected": expected,
				"reason":   "checksum mismatch",
			})
		}
	}

	return parsed, nil
}
