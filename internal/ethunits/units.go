// Package ethunits converts between wei (the integer smallest unit all
// bookkeeping is done in) and human-readable ether strings. Conversion is
// for display and operator input only; comparisons stay in wei.
package ethunits

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const etherDecimals = 18

var (
	ErrInvalidAmount = errors.New("invalid ether amount")

	// WeiPerEther is 10^18.
	WeiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(etherDecimals), nil)
)

// ParseEther converts an ether amount like "0.01" to wei. Amounts with more
// than 18 fractional digits are rejected rather than silently truncated.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, s)
	}
	wei := d.Shift(etherDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("%w: %q has sub-wei precision", ErrInvalidAmount, s)
	}
	return wei.BigInt(), nil
}

// FormatWei renders a wei amount as an ether string, e.g. 1049500000000000000 -> "1.0495".
func FormatWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// FormatWeiSigned is FormatWei with an explicit leading sign, for deltas.
func FormatWeiSigned(wei *big.Int) string {
	if wei == nil || wei.Sign() >= 0 {
		return "+" + FormatWei(wei)
	}
	return FormatWei(wei)
}

// EtherFloat converts wei to a float64 ether value for push-event payloads.
func EtherFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(wei, -etherDecimals).Float64()
	return f
}
