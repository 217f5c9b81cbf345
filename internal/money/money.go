// Package money holds the integer minor-unit arithmetic used by the ledger.
// No floating point is permitted anywhere amounts are computed; fees are
// expressed in basis points and rounded half-up in exactly one place so that
// payer fee + net payout + platform fee always reconcile to the gross amount.
package money

import (
	"errors"
	"fmt"
)

// ErrNegativeAmount is returned for amounts below zero.
var ErrNegativeAmount = errors.New("amount must not be negative")

// BpsDenominator is the divisor for basis-point percentages (100 bps = 1%).
const BpsDenominator = 10000

// FeeBps computes a fee of bps basis points on amount minor units, rounded
// half-up. Rounding rule: this is the single authoritative implementation;
// every fee in the system goes through it.
func FeeBps(amount int64, bps int64) (int64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	if bps < 0 || bps > BpsDenominator {
		return 0, fmt.Errorf("fee rate out of range: %d bps", bps)
	}
	return (amount*bps + BpsDenominator/2) / BpsDenominator, nil
}

// Net returns amount minus a bps fee and the fee itself. net + fee == amount
// holds exactly.
func Net(amount int64, bps int64) (net int64, fee int64, err error) {
	fee, err = FeeBps(amount, bps)
	if err != nil {
		return 0, 0, err
	}
	return amount - fee, fee, nil
}

// Gross returns amount plus a bps surcharge and the surcharge itself.
func Gross(amount int64, bps int64) (gross int64, fee int64, err error) {
	fee, err = FeeBps(amount, bps)
	if err != nil {
		return 0, 0, err
	}
	return amount + fee, fee, nil
}
