package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/quoter/internal/domain"
)

const (
	staleTradeAge = 5 * time.Minute
	minTimeFrame  = 2 * time.Minute
	maxTimeFrame  = 10 * time.Minute
)

// Madness estimates how hectic the market is on a 0..1 scale. Trades must be
// ordered newest first. The result averages a frequency coefficient (how
// recent the observed trades are) and a volume coefficient (average trade
// size between the configured bounds). A quiet market where the last trade
// is older than five minutes scores zero.
func Madness(trades []domain.PublicTrade, now time.Time, minAvgVolume, maxAvgVolume decimal.Decimal) float64 {
	if len(trades) == 0 {
		return 0
	}

	last := trades[0]
	if last.Time.Before(now.Add(-staleTradeAge)) {
		return 0
	}

	oldest := trades[len(trades)-1]

	var intenseCoef float64
	switch {
	case oldest.Time.After(now.Add(-minTimeFrame)):
		intenseCoef = 1
	case oldest.Time.Before(now.Add(-maxTimeFrame)):
		intenseCoef = 0
	default:
		totalSpan := last.Time.Sub(oldest.Time).Seconds()
		if totalSpan <= 0 {
			intenseCoef = 1
			break
		}
		var ageSum float64
		for _, t := range trades {
			ageSum += now.Sub(t.Time).Seconds()
		}
		averageAge := ageSum / float64(len(trades))
		intenseCoef = 1 - averageAge/totalSpan
		// A burst of old trades over a short span pushes the average age past
		// the span itself; the coefficient floors at zero.
		if intenseCoef < 0 {
			intenseCoef = 0
		}
	}

	volumeSum := decimal.Zero
	for _, t := range trades {
		volumeSum = volumeSum.Add(t.Amount)
	}
	avgVolume := volumeSum.Div(decimal.NewFromInt(int64(len(trades))))

	var volumeCoef float64
	switch {
	case avgVolume.LessThan(minAvgVolume):
		volumeCoef = 0
	case avgVolume.GreaterThanOrEqual(maxAvgVolume):
		volumeCoef = 1
	default:
		volumeCoef, _ = avgVolume.Sub(minAvgVolume).
			Div(maxAvgVolume.Sub(minAvgVolume)).Float64()
	}

	return (intenseCoef + volumeCoef) / 2
}
