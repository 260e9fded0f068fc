package ripple

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// dropsPerXRP converts the venue's integer drop amounts to whole units.
var dropsPerXRP = decimal.NewFromInt(1_000_000)

// envelope is the reply wrapper of every socket command.
type envelope struct {
	ID           int64           `json:"id"`
	Status       string          `json:"status"`
	ErrorCode    string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
	Result       json.RawMessage `json:"result"`
}

func (e envelope) failed() bool { return e.ErrorCode != "" || e.Status == "error" }

// Non-critical error codes: the request may have succeeded despite the
// complaint, or repeating it can succeed. Everything else is critical.
var nonCriticalErrors = map[string]bool{
	"noCurrent": true,
	"noNetwork": true,
	"tooBusy":   true,
	"slowDown":  true,
	"highFee":   true,
}

func (e envelope) critical() bool {
	return !nonCriticalErrors[e.ErrorCode]
}

// amount is the venue's polymorphic amount: a bare string of drops for the
// native asset, an {currency, issuer, value} object for issued assets.
type amount struct {
	native   bool
	value    decimal.Decimal
	currency string
	issuer   string
}

func (a *amount) UnmarshalJSON(data []byte) error {
	var drops string
	if err := json.Unmarshal(data, &drops); err == nil {
		v, err := decimal.NewFromString(drops)
		if err != nil {
			return errors.Wrapf(err, "bad drops amount %q", drops)
		}
		a.native = true
		a.value = v.Div(dropsPerXRP)
		return nil
	}

	var issued struct {
		Currency string `json:"currency"`
		Issuer   string `json:"issuer"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(data, &issued); err != nil {
		return errors.Wrapf(err, "unrecognized amount payload %s", data)
	}
	v, err := decimal.NewFromString(issued.Value)
	if err != nil {
		return errors.Wrapf(err, "bad issued amount %q", issued.Value)
	}
	a.value = v
	a.currency = issued.Currency
	a.issuer = issued.Issuer
	return nil
}

type bookOffer struct {
	TakerGets amount `json:"TakerGets"`
	TakerPays amount `json:"TakerPays"`
}

type bookResult struct {
	Offers []bookOffer `json:"offers"`
}

type accountOffer struct {
	Seq       int64  `json:"seq"`
	TakerGets amount `json:"taker_gets"`
	TakerPays amount `json:"taker_pays"`
}

type accountOffersResult struct {
	Offers []accountOffer `json:"offers"`
}

type accountLine struct {
	Currency string `json:"currency"`
	Account  string `json:"account"`
	Balance  string `json:"balance"`
}

type accountLinesResult struct {
	Lines []accountLine `json:"lines"`
}

type accountInfoResult struct {
	AccountData struct {
		Balance string `json:"Balance"`
	} `json:"account_data"`
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Sequence int64 `json:"Sequence"`
	} `json:"tx_json"`
}

// Engine result classification: tes = success, ter/tel = retryable without
// being on the ledger yet, everything else failed for good.
func (r submitResult) ok() bool {
	return r.EngineResult == "tesSUCCESS"
}

func (r submitResult) retryable() bool {
	if len(r.EngineResult) < 3 {
		return false
	}
	prefix := r.EngineResult[:3]
	return prefix == "ter" || prefix == "tel"
}
