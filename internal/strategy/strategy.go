// Package strategy runs trading policies as bounded synchronous tick loops.
package strategy

import (
	"context"
	"time"

	"github.com/vadiminshakov/quoter/internal/domain"
)

// Strategy is one trading policy on one or more venues. Tick performs a
// single decision round and returns the actions it took. Interval reports
// how long to sleep before the next round; policies shrink it when the
// market gets busy.
type Strategy interface {
	Name() string
	Tick(ctx context.Context) ([]domain.ActionEvent, error)
	Interval() time.Duration
}
