package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a numeric field SmartAPI sends as a number, a quoted number, an empty string or null
type Amount struct {
	decimal.Decimal
}

// NewAmount makes Amount from a string, panics on invalid input. For tests and constants.
func NewAmount(v string) Amount {
	return Amount{Decimal: decimal.RequireFromString(v)}
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.UnmarshalText(bytes.Trim(bytes.TrimSpace(data), `"`))
}

// UnmarshalText implements encoding.TextUnmarshaler, used by yaml decoding as well
func (a *Amount) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || s == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a.Decimal = d
	return nil
}

// MarshalJSON implements json.Marshaler, amounts are written as plain numbers
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

// FlexList is a list field SmartAPI sends either as a JSON array or as a string like "[NSE, BSE]"
type FlexList []string

// UnmarshalJSON implements json.Unmarshaler
func (l *FlexList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid list %s: %w", string(data), err)
	}
	s = strings.Trim(strings.TrimSpace(s), "[]")
	res := FlexList{}
	for _, v := range strings.Split(s, ",") {
		if v = strings.Trim(strings.TrimSpace(v), `"'`); v != "" {
			res = append(res, v)
		}
	}
	*l = res
	return nil
}
