package order

import "github.com/shopspring/decimal"

// DefaultVATRate is the value-added tax included in shelf prices.
var DefaultVATRate = decimal.RequireFromString("0.19")

var one = decimal.NewFromInt(1)

// ExtractVAT splits a tax-inclusive total into its net subtotal and tax.
// The subtotal is rounded to cents and the tax takes the remainder, so
// subtotal + tax always equals total.
func ExtractVAT(total, rate decimal.Decimal) (subtotal, tax decimal.Decimal) {
	subtotal = total.Div(one.Add(rate)).Round(2)
	tax = total.Sub(subtotal)
	return subtotal, tax
}

// LineTotal returns quantity × unit price.
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// SumLines adds up the line totals of lines.
func SumLines(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.LineTotal)
	}
	return sum
}
