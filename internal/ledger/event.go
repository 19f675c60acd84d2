package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/InfinitoSolutions/ibl-pay-api/common"
)

// successStack is the execution result code the ledger reports for a
// successfully applied invocation.
const successStack = "1"

// funcTokenWhitelist is the emitter token that carries its own event in the
// first tuple instead of the usual second one.
const funcTokenWhitelist = "whitelist_new_user"

// Event names the dispatcher branches on.
const (
	EventMaxFund       = "max_fund"
	EventMaxFundDelete = "max_fund_delete"
	EventMaxFundReject = "max_fund_reject"
	EventTransfer      = "transfer"
	EventError         = "error"
)

// ErrNoEvent marks a payload whose notification tuples cannot be decoded into
// an event. The payload is accepted but must produce no state mutation.
var ErrNoEvent = errors.New("no event in webhook notifications")

// Payload is the raw webhook body delivered by the ledger monitoring service.
// Each notification carries the contract's own comma-separated encoding:
// the first tuple is [functionToken, ...emitterMetadata], later tuples are
// [eventName, ...params].
type Payload struct {
	TxID          string         `json:"txid"`
	Contract      string         `json:"contract"`
	GasConsumed   json.Number    `json:"gas_consumed"`
	Status        string         `json:"status"`
	Stack         string         `json:"stack"`
	Notifications []Notification `json:"notifications"`
}

type Notification struct {
	Event string `json:"event"`
}

// PaymentEvent is the typed, ephemeral result of parsing a webhook payload.
type PaymentEvent struct {
	TxID        string
	Contract    string
	GasConsumed decimal.NullDecimal
	Success     bool
	Function    Function
	FuncToken   string
	Name        string
	Params      []string
}

// Error returns the captured error string when the event carries one.
func (e *PaymentEvent) Error() string {
	if e.Name == EventError && len(e.Params) > 0 {
		return e.Params[0]
	}
	return ""
}

func (e *PaymentEvent) Param(i int) string {
	if i < 0 || i >= len(e.Params) {
		return ""
	}
	return e.Params[i]
}

// Parse decodes a raw webhook body into a typed PaymentEvent. It returns
// ErrNoEvent when the notification tuples are too few or empty for the rules
// below; callers treat that as accept-and-drop.
func Parse(raw json.RawMessage) (*PaymentEvent, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode ledger payload: %w", err)
	}
	return p.Event()
}

// Event applies the notification decoding rules. A single contract call may
// emit several notifications and only the last relevant one is authoritative,
// hence the override rules on the third and fourth tuples.
func (p *Payload) Event() (*PaymentEvent, error) {
	token, name, params, err := decodeNotifications(p.Notifications)
	if err != nil {
		return nil, err
	}

	e := &PaymentEvent{
		TxID:      common.NormalizeTxID(p.TxID),
		Contract:  p.Contract,
		Success:   p.Stack == successStack,
		Function:  FunctionFromToken(token),
		FuncToken: token,
		Name:      name,
		Params:    params,
	}
	if gas, gerr := decimal.NewFromString(p.GasConsumed.String()); gerr == nil {
		e.GasConsumed = decimal.NullDecimal{Decimal: gas, Valid: true}
	}
	return e, nil
}

func decodeNotifications(ns []Notification) (token, name string, params []string, err error) {
	if len(ns) == 0 {
		return "", "", nil, ErrNoEvent
	}
	f := strings.Split(ns[0].Event, ",")
	token = f[0]

	// whitelist_new_user carries the event in its own tuple.
	if token == funcTokenWhitelist {
		return "register", "register", f[1:], nil
	}

	if token == "" || len(ns) < 2 {
		return "", "", nil, ErrNoEvent
	}
	e := strings.Split(ns[1].Event, ",")

	// A delete may be followed by the authoritative rejection.
	if e[0] == EventMaxFundDelete && len(ns) > 2 {
		if e2 := strings.Split(ns[2].Event, ","); e2[0] == EventMaxFundReject {
			e = e2
		}
	}

	// Pull, withdrawal and deposit contracts emit their terminal event as the
	// fourth notification when present.
	switch FunctionFromToken(token) {
	case FunctionPullSchedule, FunctionWithdrawal, FunctionDepositIssue:
		if len(ns) > 3 {
			if e2 := strings.Split(ns[3].Event, ","); e2[0] != "" {
				e = e2
			}
		}
	}

	if e[0] == "" {
		return "", "", nil, ErrNoEvent
	}
	return token, e[0], e[1:], nil
}
