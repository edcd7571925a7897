// Package money converts integer minor-unit amounts at display boundaries.
// All arithmetic elsewhere stays on cents; decimals exist for rendering only.
package money

import "github.com/shopspring/decimal"

// FormatEUR renders cents as a customer-facing amount: 129900 -> "1299.00 €".
func FormatEUR(cents int) string {
	return decimal.New(int64(cents), -2).StringFixed(2) + " €"
}
