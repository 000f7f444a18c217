// Package reconcile compares system-recorded revenue against physically
// counted amounts for a shift. It is pure: no clock, no storage, no I/O.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fitpos/backend/internal/domain"
)

// Tolerance is the largest absolute per-channel difference that still counts
// as a clean closure. Differences at or below it are kept in the result but
// do not flag a discrepancy.
var Tolerance = decimal.NewFromFloat(0.01)

type Result struct {
	Differences      domain.ChannelAmounts
	TotalRecorded    decimal.Decimal
	TotalCounted     decimal.Decimal
	TotalDifferences decimal.Decimal
	HasDiscrepancies bool
	Narrative        string
}

// Compare computes counted minus recorded for every channel. A positive
// difference means the drawer holds more than the system recorded.
func Compare(recorded, counted domain.ChannelAmounts) Result {
	res := Result{
		TotalRecorded: recorded.Total(),
		TotalCounted:  counted.Total(),
	}

	var notes []string
	for _, ch := range domain.PaymentChannels {
		diff := counted.Get(ch).Sub(recorded.Get(ch))
		res.Differences.Add(ch, diff)
		if diff.Abs().GreaterThan(Tolerance) {
			res.HasDiscrepancies = true
			notes = append(notes, describeChannel(ch, recorded.Get(ch), counted.Get(ch), diff))
		}
	}

	res.TotalDifferences = res.Differences.Total()
	res.Narrative = strings.Join(notes, "; ")
	return res
}

func describeChannel(ch domain.PaymentChannel, recorded, counted, diff decimal.Decimal) string {
	sign := ""
	if diff.IsPositive() {
		sign = "+"
	}
	return fmt.Sprintf("%s: system $%s vs physical $%s (diff: $%s%s)",
		strings.ToUpper(string(ch)),
		money(recorded),
		money(counted),
		sign,
		money(diff),
	)
}

// money renders whole amounts without the decimal tail ($169000, not
// $169000.00) and keeps two decimals otherwise.
func money(amount decimal.Decimal) string {
	if amount.Equal(amount.Truncate(0)) {
		return amount.Truncate(0).String()
	}
	return amount.StringFixed(2)
}
