package provider

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Actions in the common panel API dialect. Every call is a form-encoded
// request carrying key and action plus action-specific fields.
const (
	ActionAdd     = "add"
	ActionStatus  = "status"
	ActionCancel  = "cancel"
	ActionRefill  = "refill"
	ActionBalance = "balance"
)

// BuildAddOrder builds the form values for placing an order upstream.
func BuildAddOrder(spec Spec, serviceID, link string, quantity, runs, interval int) url.Values {
	v := url.Values{}
	v.Set("key", spec.APIKey)
	v.Set("action", ActionAdd)
	v.Set("service", serviceID)
	v.Set("link", link)
	v.Set("quantity", strconv.Itoa(quantity))
	if runs > 0 {
		v.Set("runs", strconv.Itoa(runs))
		if interval > 0 {
			v.Set("interval", strconv.Itoa(interval))
		}
	}
	return v
}

// BuildOrderStatus builds the form values for a status check.
func BuildOrderStatus(spec Spec, providerOrderID string) url.Values {
	v := url.Values{}
	v.Set("key", spec.APIKey)
	v.Set("action", ActionStatus)
	v.Set("order", providerOrderID)
	return v
}

// BuildCancel builds the form values for an upstream cancellation.
func BuildCancel(spec Spec, providerOrderID string) url.Values {
	v := url.Values{}
	v.Set("key", spec.APIKey)
	v.Set("action", ActionCancel)
	v.Set("order", providerOrderID)
	return v
}

// BuildRefill builds the form values for an upstream refill.
func BuildRefill(spec Spec, providerOrderID string) url.Values {
	v := url.Values{}
	v.Set("key", spec.APIKey)
	v.Set("action", ActionRefill)
	v.Set("order", providerOrderID)
	return v
}

// BuildBalance builds the form values for a balance query.
func BuildBalance(spec Spec) url.Values {
	v := url.Values{}
	v.Set("key", spec.APIKey)
	v.Set("action", ActionBalance)
	return v
}

// flexString tolerates the number-or-string sloppiness of panel APIs:
// "23501", 23501 and 23501.0 all decode to "23501".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	// Integers serialized as floats lose their trailing .0 here
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	if fl, err := n.Float64(); err == nil && fl == float64(int64(fl)) {
		*f = flexString(strconv.FormatInt(int64(fl), 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) Float64() (float64, error) {
	if f == "" {
		return 0, nil
	}
	return strconv.ParseFloat(string(f), 64)
}

func (f flexString) Int() (int, error) {
	if f == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(string(f), 64)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// flexError tolerates error fields that arrive as a plain string, an
// object with a message, or an array of strings.
func extractError(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"message", "msg", "error", "description"} {
			if v, ok := obj[key].(string); ok && v != "" {
				return v
			}
		}
		return string(raw)
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return strings.Join(arr, "; ")
	}
	return string(raw)
}

// AddOrderResult is the parsed outcome of an add call.
type AddOrderResult struct {
	OrderID string
	Charge  float64
}

// ParseAddOrder parses the provider's response to an add call. A present
// error field always wins over an order id.
func ParseAddOrder(body []byte) (*AddOrderResult, error) {
	var raw struct {
		Order  flexString      `json:"order"`
		Charge flexString      `json:"charge"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Op: ActionAdd, Body: truncate(body)}
	}
	if msg := extractError(raw.Error); msg != "" {
		return nil, &ParseError{Op: ActionAdd, Message: msg, Body: truncate(body)}
	}
	if raw.Order == "" {
		return nil, &ParseError{Op: ActionAdd, Message: "response has no order id", Body: truncate(body)}
	}
	charge, err := raw.Charge.Float64()
	if err != nil {
		return nil, &ParseError{Op: ActionAdd, Message: fmt.Sprintf("bad charge value %q", raw.Charge), Body: truncate(body)}
	}
	return &AddOrderResult{OrderID: string(raw.Order), Charge: charge}, nil
}

// StatusResult is the parsed outcome of a status call, with the provider's
// status already mapped to the canonical vocabulary.
type StatusResult struct {
	Status     string
	RawStatus  string
	Charge     float64
	Remains    int
	StartCount int
}

// ParseOrderStatus parses the provider's response to a status call.
func ParseOrderStatus(body []byte) (*StatusResult, error) {
	var raw struct {
		Status     string          `json:"status"`
		Charge     flexString      `json:"charge"`
		Remains    flexString      `json:"remains"`
		StartCount flexString      `json:"start_count"`
		Error      json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Op: ActionStatus, Body: truncate(body)}
	}
	if msg := extractError(raw.Error); msg != "" {
		return nil, &ParseError{Op: ActionStatus, Message: msg, Body: truncate(body)}
	}
	if raw.Status == "" {
		return nil, &ParseError{Op: ActionStatus, Message: "response has no status", Body: truncate(body)}
	}

	charge, err := raw.Charge.Float64()
	if err != nil {
		return nil, &ParseError{Op: ActionStatus, Message: fmt.Sprintf("bad charge value %q", raw.Charge), Body: truncate(body)}
	}
	remains, err := raw.Remains.Int()
	if err != nil {
		return nil, &ParseError{Op: ActionStatus, Message: fmt.Sprintf("bad remains value %q", raw.Remains), Body: truncate(body)}
	}
	start, err := raw.StartCount.Int()
	if err != nil {
		return nil, &ParseError{Op: ActionStatus, Message: fmt.Sprintf("bad start_count value %q", raw.StartCount), Body: truncate(body)}
	}

	return &StatusResult{
		Status:     MapStatus(raw.Status),
		RawStatus:  raw.Status,
		Charge:     charge,
		Remains:    remains,
		StartCount: start,
	}, nil
}

// ParseAck parses cancel/refill responses, which only need to not be an
// error to count as accepted.
func ParseAck(op string, body []byte) error {
	var raw struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return &ParseError{Op: op, Body: truncate(body)}
	}
	if msg := extractError(raw.Error); msg != "" {
		return &ParseError{Op: op, Message: msg, Body: truncate(body)}
	}
	return nil
}

// BalanceResult is the parsed outcome of a balance call.
type BalanceResult struct {
	Balance  float64
	Currency string
}

// ParseBalance parses the provider's response to a balance call.
func ParseBalance(body []byte) (*BalanceResult, error) {
	var raw struct {
		Balance  flexString      `json:"balance"`
		Currency string          `json:"currency"`
		Error    json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Op: ActionBalance, Body: truncate(body)}
	}
	if msg := extractError(raw.Error); msg != "" {
		return nil, &ParseError{Op: ActionBalance, Message: msg, Body: truncate(body)}
	}
	balance, err := raw.Balance.Float64()
	if err != nil {
		return nil, &ParseError{Op: ActionBalance, Message: fmt.Sprintf("bad balance value %q", raw.Balance), Body: truncate(body)}
	}
	currency := raw.Currency
	if currency == "" {
		currency = "USD"
	}
	return &BalanceResult{Balance: balance, Currency: currency}, nil
}

const maxBodySnippet = 512

func truncate(body []byte) string {
	if len(body) > maxBodySnippet {
		return string(body[:maxBodySnippet]) + "..."
	}
	return string(body)
}
