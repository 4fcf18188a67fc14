package market

import "github.com/shopspring/decimal"

const changePlaces = 4

// ComputeChange returns price-previous and the percentage move relative to
// previous. The percentage is 0 when previous is 0.
func ComputeChange(price, previous float64) (change, percent float64) {
	p := decimal.NewFromFloat(price)
	prev := decimal.NewFromFloat(previous)

	diff := p.Sub(prev)
	change = diff.Round(changePlaces).InexactFloat64()

	if prev.IsZero() {
		return change, 0
	}
	percent = diff.Div(prev).Mul(decimal.NewFromInt(100)).Round(changePlaces).InexactFloat64()
	return change, percent
}
