// Package enums provides type-safe enumeration types shared by the web server,
// the broker client and the persistence layer.
//
// Each enum is a small struct with a name and a value. Zero values are invalid, so
// an unset field is detectable. All types support:
//   - String() for display and storage
//   - Parse* functions, case-insensitive, for user input and vendor payloads
//   - MarshalText/UnmarshalText for JSON and YAML
//   - Scan/Value for SQL columns, stored as strings
package enums

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// TradeAction is the side of a trade, BUY or SELL
type TradeAction struct {
	name  string
	value int
}

// trade action values
var (
	TradeActionBuy  = TradeAction{name: "BUY", value: 1}
	TradeActionSell = TradeAction{name: "SELL", value: 2}
)

// TradeActionValues lists all valid trade actions
var TradeActionValues = []TradeAction{TradeActionBuy, TradeActionSell}

func (e TradeAction) String() string { return e.name }

// IsValid reports whether e is one of the declared values
func (e TradeAction) IsValid() bool { return e.value != 0 }

// ParseTradeAction converts a string to TradeAction, accepts "buy", "BUY", "Buy" etc.
func ParseTradeAction(v string) (TradeAction, error) {
	for _, a := range TradeActionValues {
		if strings.EqualFold(a.name, strings.TrimSpace(v)) {
			return a, nil
		}
	}
	return TradeAction{}, fmt.Errorf("invalid trade action %q", v)
}

// MarshalText implements encoding.TextMarshaler
func (e TradeAction) MarshalText() ([]byte, error) { return []byte(e.name), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (e *TradeAction) UnmarshalText(text []byte) error {
	v, err := ParseTradeAction(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Value implements driver.Valuer
func (e TradeAction) Value() (driver.Value, error) { return e.name, nil }

// Scan implements sql.Scanner
func (e *TradeAction) Scan(src any) error {
	s, err := scanString(src)
	if err != nil {
		return err
	}
	if s == "" {
		*e = TradeAction{}
		return nil
	}
	return e.UnmarshalText([]byte(s))
}

// AuthMode tells how a broker session was obtained
type AuthMode struct {
	name  string
	value int
}

// auth mode values
var (
	AuthModePassword  = AuthMode{name: "password", value: 1}  // direct password + TOTP login
	AuthModePublisher = AuthMode{name: "publisher", value: 2} // publisher-login redirect exchange
	AuthModeRefresh   = AuthMode{name: "refresh", value: 3}   // renewed with refresh token
)

// AuthModeValues lists all valid auth modes
var AuthModeValues = []AuthMode{AuthModePassword, AuthModePublisher, AuthModeRefresh}

func (e AuthMode) String() string { return e.name }

// ParseAuthMode converts a string to AuthMode
func ParseAuthMode(v string) (AuthMode, error) {
	for _, m := range AuthModeValues {
		if strings.EqualFold(m.name, strings.TrimSpace(v)) {
			return m, nil
		}
	}
	return AuthMode{}, fmt.Errorf("invalid auth mode %q", v)
}

// MarshalText implements encoding.TextMarshaler
func (e AuthMode) MarshalText() ([]byte, error) { return []byte(e.name), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (e *AuthMode) UnmarshalText(text []byte) error {
	v, err := ParseAuthMode(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Value implements driver.Valuer
func (e AuthMode) Value() (driver.Value, error) { return e.name, nil }

// Scan implements sql.Scanner
func (e *AuthMode) Scan(src any) error {
	s, err := scanString(src)
	if err != nil {
		return err
	}
	if s == "" {
		*e = AuthMode{}
		return nil
	}
	return e.UnmarshalText([]byte(s))
}

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("unsupported scan type %T", src)
	}
}
