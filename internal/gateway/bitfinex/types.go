package bitfinex

// Wire types of the venue's v1 JSON API. Decoding stops here; the gateway
// hands normalized domain values upward.

type bookEntry struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

type bookResponse struct {
	Bids []bookEntry `json:"bids"`
	Asks []bookEntry `json:"asks"`
}

type tradeEntry struct {
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

type balanceEntry struct {
	Type      string `json:"type"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	Available string `json:"available"`
}

type orderResponse struct {
	ID              int64  `json:"id"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	AvgExecPrice    string `json:"avg_execution_price"`
	OriginalAmount  string `json:"original_amount"`
	RemainingAmount string `json:"remaining_amount"`
	IsLive          bool   `json:"is_live"`
	IsCancelled     bool   `json:"is_cancelled"`
}

type errorEnvelope struct {
	Message string `json:"message"`
}
