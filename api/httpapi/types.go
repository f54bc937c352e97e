package httpapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"fundbook/domain/orderbook"
	"fundbook/service"
)

// Amount is a fixed-point integer in base units. It is written as a JSON
// string and read from either a string or a bare integer.
type Amount int64

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(a), 10))
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return errors.Errorf("amount %q is not a number", s)
	}
	if !d.Equal(d.Truncate(0)) {
		return errors.Errorf("amount %q must be an integer in base units", s)
	}
	if d.GreaterThan(decimal.NewFromInt(1<<63-1)) || d.LessThan(decimal.NewFromInt(-1<<63)) {
		return errors.Errorf("amount %q out of range", s)
	}
	*a = Amount(d.IntPart())
	return nil
}

type submitRequest struct {
	Side          string     `json:"side"`
	Instrument    string     `json:"instrument"`
	TokenAmount   Amount     `json:"tokenAmount"`
	PricePerToken Amount     `json:"pricePerToken"`
	Nonce         string     `json:"nonce,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
}

type fallbackJSON struct {
	Remainder Amount    `json:"remainder"`
	Notional  Amount    `json:"notional,omitempty"`
	Success   bool      `json:"success"`
	TxRef     string    `json:"txRef,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type orderJSON struct {
	OrderID           string        `json:"orderId"`
	Maker             string        `json:"maker"`
	Side              string        `json:"side"`
	Instrument        string        `json:"instrument"`
	TokenAmount       Amount        `json:"tokenAmount"`
	PricePerToken     Amount        `json:"pricePerToken"`
	Nonce             string        `json:"nonce"`
	Deadline          time.Time     `json:"deadline"`
	Status            string        `json:"status"`
	CreatedAt         time.Time     `json:"createdAt"`
	MatchedOrderID    string        `json:"matchedOrderId,omitempty"`
	SettlementTxHash  string        `json:"settlementTxHash,omitempty"`
	FilledTokenAmount Amount        `json:"filledTokenAmount"`
	Fallback          *fallbackJSON `json:"fallback,omitempty"`
}

func toOrderJSON(o *orderbook.Order) *orderJSON {
	if o == nil {
		return nil
	}
	out := &orderJSON{
		OrderID:           o.ID,
		Maker:             o.Maker,
		Side:              o.Side.String(),
		Instrument:        o.Instrument,
		TokenAmount:       Amount(o.TokenAmount),
		PricePerToken:     Amount(o.PricePerToken),
		Nonce:             o.Nonce,
		Deadline:          o.Deadline,
		Status:            o.Status.String(),
		CreatedAt:         o.CreatedAt,
		MatchedOrderID:    o.MatchedOrderID,
		SettlementTxHash:  o.SettlementTxHash,
		FilledTokenAmount: Amount(o.FilledTokenAmount),
	}
	if f := o.Fallback; f != nil {
		out.Fallback = &fallbackJSON{
			Remainder: Amount(f.Remainder),
			Notional:  Amount(f.Notional),
			Success:   f.Success,
			TxRef:     f.TxRef,
			Error:     f.Error,
			At:        f.At,
		}
	}
	return out
}

type submitResponse struct {
	OrderID      string     `json:"orderId"`
	Status       string     `json:"status"`
	Message      string     `json:"message"`
	Order        *orderJSON `json:"order"`
	CounterOrder *orderJSON `json:"counterOrder,omitempty"`
}

type cancelResponse struct {
	OrderID   string `json:"orderId"`
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type probabilityResponse struct {
	Instrument  string  `json:"instrument,omitempty"`
	PeriodHours int     `json:"periodHours"`
	Probability float64 `json:"probability"`
	BuyVolume   Amount  `json:"buyVolume"`
	SellVolume  Amount  `json:"sellVolume"`
	BuyOrders   int     `json:"buyOrders"`
	SellOrders  int     `json:"sellOrders"`
}

type reservationsResponse struct {
	Wallet       string            `json:"wallet"`
	CashNotional Amount            `json:"cashNotional"`
	Tokens       map[string]Amount `json:"tokens"`
	OpenBuys     int               `json:"openBuys"`
	OpenSells    int               `json:"openSells"`
}

type stuckJSON struct {
	MatchID       string    `json:"matchId"`
	BuyOrderID    string    `json:"buyOrderId"`
	SellOrderID   string    `json:"sellOrderId"`
	Instrument    string    `json:"instrument"`
	TokenAmount   Amount    `json:"tokenAmount"`
	PricePerToken Amount    `json:"pricePerToken"`
	Retries       uint32    `json:"retries"`
	Exhausted     bool      `json:"exhausted"`
	LastError     string    `json:"lastError,omitempty"`
	LastAttempt   time.Time `json:"lastAttempt"`
}

func toStuckJSON(s service.StuckSettlement) stuckJSON {
	return stuckJSON{
		MatchID:       s.MatchID,
		BuyOrderID:    s.BuyOrderID,
		SellOrderID:   s.SellOrderID,
		Instrument:    s.Instrument,
		TokenAmount:   Amount(s.TokenAmount),
		PricePerToken: Amount(s.PricePerToken),
		Retries:       s.Retries,
		Exhausted:     s.Exhausted,
		LastError:     s.LastError,
		LastAttempt:   s.LastAttempt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
