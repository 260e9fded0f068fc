package domain

import "fmt"

// Pair is a traded asset pair, e.g. {XRP, USD}.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.Base, p.Quote)
}

// Symbol returns the pair in the concatenated form most venues expect.
func (p Pair) Symbol() string {
	return p.Base + p.Quote
}
