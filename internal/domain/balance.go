package domain

import "github.com/shopspring/decimal"

// Balance is an account balance for one asset. Issuer is the gateway address
// for venues where the same asset code can be held against several issuers,
// empty elsewhere.
type Balance struct {
	Asset     string
	Issuer    string
	Total     decimal.Decimal
	Available decimal.Decimal
}

// Balances is the full account snapshot of one venue.
type Balances []Balance

// Get resolves the balance for an asset. A missing asset resolves to a
// zero-valued balance, never a nil, so callers can do arithmetic without
// presence checks.
func (b Balances) Get(asset string) Balance {
	for _, bal := range b {
		if bal.Asset == asset {
			return bal
		}
	}
	return Balance{Asset: asset}
}

// GetIssued resolves the balance for an asset held against a specific issuer.
func (b Balances) GetIssued(asset, issuer string) Balance {
	for _, bal := range b {
		if bal.Asset == asset && bal.Issuer == issuer {
			return bal
		}
	}
	return Balance{Asset: asset, Issuer: issuer}
}
