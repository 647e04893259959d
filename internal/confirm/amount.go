package confirm

import (
	"fmt"
	"strconv"

	"trtl-signer/internal/status"
)

const (
	// DecimalPlaces of the atomic unit
	DecimalPlaces = 2
	// Ticker follows every displayed amount
	Ticker = " TRTL"
	// DisplayWidth is the room a prompt gives an amount
	DisplayWidth = 32
)

// FormatAmount renders an atomic amount with a leading zero and the ticker,
// for example 1 becomes "0.01 TRTL"
func FormatAmount(atomic uint64, width int) (string, error) {
	digits := strconv.FormatUint(atomic, 10)
	for len(digits) <= DecimalPlaces {
		digits = "0" + digits
	}
	cut := len(digits) - DecimalPlaces
	out := digits[:cut] + "." + digits[cut:] + Ticker
	if len(out) > width {
		return "", status.Wrap(status.CodeOutOfRange, "format amount",
			fmt.Errorf("%q is longer than %d", out, width))
	}
	return out, nil
}
