package engine

import "math/big"

// FeeCeiling platform fee hard ceiling in basis points, exclusive: 1999 is
// the highest accepted value, 2000 (20%) is the first rejected one.
const FeeCeiling int64 = 2000

// bps denominator, 10000 bps = 100%
var bpsDenominator = big.NewInt(10000)

// ComputeSplit splits an escrowed amount into platform fee and seller payout
// using the fee snapshot taken at settlement time.
//
// feeAmount = floor(amount * feeBps / 10000); the remainder goes to the
// seller, so rounding always favors the seller and the two parts sum to the
// exact escrowed amount.
func ComputeSplit(amount *big.Int, feeBps int64) (feeAmount, sellerAmount *big.Int) {
	feeAmount = new(big.Int).Mul(amount, big.NewInt(feeBps))
	feeAmount.Quo(feeAmount, bpsDenominator)
	sellerAmount = new(big.Int).Sub(amount, feeAmount)
	return feeAmount, sellerAmount
}
