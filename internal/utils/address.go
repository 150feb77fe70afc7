package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a hex account/token address and returns the
// canonical lowercase 0x-prefixed form used for storage and comparison.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("invalid address: %q", address)
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), nil
}

// SameAddress compares two addresses case-insensitively
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ParseAmount parses a non-negative base-10 amount in token smallest units
func ParseAmount(amount string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", amount)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", amount)
	}
	return value, nil
}
