/*
utilization.go - Utilization percentages from aggregated hours

PURPOSE:
  utilization = totalHours / (capacityPerWeek * weekCount) * 100

  The High/Low/Optimal buckets are presentation-facing boundaries
  consumers rely on, reproduced here exactly: above 80% is high, below
  50% is low, everything else is optimal.
*/
package allocation

import "github.com/shopspring/decimal"

// UtilizationBucket is the presentation classification of a
// utilization percentage.
type UtilizationBucket string

const (
	UtilizationHigh    UtilizationBucket = "high"    // > 80%
	UtilizationLow     UtilizationBucket = "low"     // < 50%
	UtilizationOptimal UtilizationBucket = "optimal" // otherwise
)

var (
	utilizationHighAbove = decimal.NewFromInt(80)
	utilizationLowBelow  = decimal.NewFromInt(50)
	hundred              = decimal.NewFromInt(100)
)

// UtilizationCalculator derives utilization percentages from a weekly
// capacity figure.
type UtilizationCalculator struct {
	// CapacityPerWeek is the expected weekly hours per resource,
	// typically the tenant's standardCapacityHours.
	CapacityPerWeek decimal.Decimal
}

// Utilization returns the percentage of capacity consumed by
// totalHours over weekCount weeks. Zero capacity or weeks yields zero
// rather than a division error.
func (c UtilizationCalculator) Utilization(totalHours decimal.Decimal, weekCount int) decimal.Decimal {
	if weekCount <= 0 || c.CapacityPerWeek.IsZero() {
		return decimal.Zero
	}
	capacity := c.CapacityPerWeek.Mul(decimal.NewFromInt(int64(weekCount)))
	return totalHours.Div(capacity).Mul(hundred)
}

// Classify buckets a utilization percentage.
func Classify(utilization decimal.Decimal) UtilizationBucket {
	switch {
	case utilization.GreaterThan(utilizationHighAbove):
		return UtilizationHigh
	case utilization.LessThan(utilizationLowBelow):
		return UtilizationLow
	default:
		return UtilizationOptimal
	}
}
