// Package journal validates trade journal input coming from the API or a seed file
// and converts it to stored entries.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/umputun/tradejournal/app/broker"
	"github.com/umputun/tradejournal/app/web/enums"
	"github.com/umputun/tradejournal/app/web/persistence"
)

const (
	dateLayout    = "2006-01-02"
	maxSymbolLen  = 32
	maxTextLen    = 4000
	maxMoodLength = 16
)

// Input is a journal entry as provided by a user, field names follow the dashboard client
type Input struct {
	Date        string            `json:"date" yaml:"date" jsonschema:"required,format=date,description=trade date YYYY-MM-DD"`
	Stock       string            `json:"stock" yaml:"stock" jsonschema:"required,minLength=1,maxLength=32"`
	Action      enums.TradeAction `json:"action" yaml:"action" jsonschema:"required"`
	Quantity    int               `json:"quantity" yaml:"quantity" jsonschema:"required,minimum=1"`
	Price       broker.Amount     `json:"price" yaml:"price" jsonschema:"required,description=price per share"`
	PnL         broker.Amount     `json:"pnl" yaml:"pnl" jsonschema:"description=realized profit or loss"`
	AIReasoning string            `json:"aiReasoning,omitempty" yaml:"ai_reasoning" jsonschema:"maxLength=4000"`
	UserNotes   string            `json:"userNotes,omitempty" yaml:"user_notes" jsonschema:"maxLength=4000"`
	Mood        string            `json:"mood,omitempty" yaml:"mood" jsonschema:"maxLength=16"`
	Confidence  int               `json:"confidence" yaml:"confidence" jsonschema:"minimum=0,maximum=100"`
}

// Validate checks the input and returns the first problem found
func (in Input) Validate() error {
	if _, err := time.Parse(dateLayout, in.Date); err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", in.Date)
	}
	stock := strings.TrimSpace(in.Stock)
	if stock == "" {
		return errors.New("stock is required")
	}
	if len(stock) > maxSymbolLen {
		return fmt.Errorf("stock is longer than %d characters", maxSymbolLen)
	}
	if !in.Action.IsValid() {
		return errors.New("action must be BUY or SELL")
	}
	if in.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if !in.Price.IsPositive() {
		return errors.New("price must be positive")
	}
	if in.Confidence < 0 || in.Confidence > 100 {
		return errors.New("confidence must be between 0 and 100")
	}
	if utf8.RuneCountInString(in.AIReasoning) > maxTextLen || utf8.RuneCountInString(in.UserNotes) > maxTextLen {
		return fmt.Errorf("reasoning and notes are limited to %d characters", maxTextLen)
	}
	if utf8.RuneCountInString(in.Mood) > maxMoodLength {
		return fmt.Errorf("mood is limited to %d characters", maxMoodLength)
	}
	return nil
}

// Entry converts validated input to a stored entry with the given id
func (in Input) Entry(clientCode, id string) persistence.JournalEntry {
	return persistence.JournalEntry{
		ID:         id,
		ClientCode: clientCode,
		TradeDate:  in.Date,
		Symbol:     strings.ToUpper(strings.TrimSpace(in.Stock)),
		Action:     in.Action,
		Quantity:   in.Quantity,
		Price:      in.Price.Decimal,
		PnL:        in.PnL.Decimal,
		Reasoning:  in.AIReasoning,
		Notes:      in.UserNotes,
		Mood:       in.Mood,
		Confidence: in.Confidence,
	}
}

// NewID makes a random entry id
func NewID() string {
	return uuid.NewString()
}

// Store is the subset of persistence used for seeding
type Store interface {
	CountEntries(ctx context.Context, clientCode string) (int, error)
	CreateEntries(ctx context.Context, entries []persistence.JournalEntry) error
}

// seedFile is the layout of the seed yaml
type seedFile struct {
	Entries []Input `yaml:"entries"`
}

// LoadSeed reads and validates entries from a yaml seed file
func LoadSeed(path string) ([]Input, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	for i, in := range sf.Entries {
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("invalid seed entry #%d: %w", i+1, err)
		}
	}
	return sf.Entries, nil
}

// Seed inserts entries for the client if its journal is empty, returns number of inserted entries.
// Entries are inserted all or nothing, a failed seed is retried on the next start.
func Seed(ctx context.Context, store Store, clientCode string, entries []Input) (int, error) {
	count, err := store.CountEntries(ctx, clientCode)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		log.Printf("[DEBUG] journal of %s has %d entries, seed skipped", clientCode, count)
		return 0, nil
	}
	recs := make([]persistence.JournalEntry, 0, len(entries))
	for _, in := range entries {
		recs = append(recs, in.Entry(clientCode, NewID()))
	}
	if err := store.CreateEntries(ctx, recs); err != nil {
		return 0, fmt.Errorf("failed to seed journal of %s: %w", clientCode, err)
	}
	return len(entries), nil
}
