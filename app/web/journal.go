package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/invopop/jsonschema"

	"github.com/umputun/tradejournal/app/broker"
	"github.com/umputun/tradejournal/app/journal"
	"github.com/umputun/tradejournal/app/web/enums"
	"github.com/umputun/tradejournal/app/web/persistence"
)

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

// APIJournalEntry is a journal entry in API responses, field names follow the dashboard client
type APIJournalEntry struct {
	ID          string        `json:"id"`
	Date        string        `json:"date"`
	Stock       string        `json:"stock"`
	Action      string        `json:"action"`
	Quantity    int           `json:"quantity"`
	Price       broker.Amount `json:"price"`
	PnL         broker.Amount `json:"pnl"`
	AIReasoning string        `json:"aiReasoning"`
	UserNotes   string        `json:"userNotes"`
	Mood        string        `json:"mood"`
	Confidence  int           `json:"confidence"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func toAPIJournalEntry(e persistence.JournalEntry) APIJournalEntry {
	return APIJournalEntry{
		ID:          e.ID,
		Date:        e.TradeDate,
		Stock:       e.Symbol,
		Action:      e.Action.String(),
		Quantity:    e.Quantity,
		Price:       broker.Amount{Decimal: e.Price},
		PnL:         broker.Amount{Decimal: e.PnL},
		AIReasoning: e.Reasoning,
		UserNotes:   e.Notes,
		Mood:        e.Mood,
		Confidence:  e.Confidence,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// handleJournalList returns journal entries newest first, filtered by query params
func (s *Server) handleJournalList(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	filter, err := journalFilter(r, sess.ClientCode)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.store.ListEntries(r.Context(), filter)
	if err != nil {
		log.Printf("[ERROR] failed to list journal of %s: %v", sess.ClientCode, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp := make([]APIJournalEntry, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toAPIJournalEntry(e))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleJournalCreate adds a new journal entry
func (s *Server) handleJournalCreate(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	in, ok := s.decodeJournalInput(w, r)
	if !ok {
		return
	}

	entry := in.Entry(sess.ClientCode, journal.NewID())
	entry.CreatedAt = s.now()
	entry.UpdatedAt = entry.CreatedAt
	if err := s.store.CreateEntry(r.Context(), entry); err != nil {
		log.Printf("[ERROR] failed to create journal entry for %s: %v", sess.ClientCode, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	log.Printf("[DEBUG] journal entry %s created for %s, %s %s", entry.ID, sess.ClientCode, entry.Action, entry.Symbol)
	s.writeJSON(w, http.StatusCreated, toAPIJournalEntry(entry))
}

// handleJournalGet returns a single journal entry
func (s *Server) handleJournalGet(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	entry, err := s.store.GetEntry(r.Context(), sess.ClientCode, r.PathValue("id"))
	if err != nil {
		s.journalStoreError(w, sess, "get", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAPIJournalEntry(entry))
}

// handleJournalUpdate replaces the content of a journal entry
func (s *Server) handleJournalUpdate(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	in, ok := s.decodeJournalInput(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	entry := in.Entry(sess.ClientCode, id)
	entry.UpdatedAt = s.now()
	if err := s.store.UpdateEntry(r.Context(), entry); err != nil {
		s.journalStoreError(w, sess, "update", err)
		return
	}
	updated, err := s.store.GetEntry(r.Context(), sess.ClientCode, id)
	if err != nil {
		s.journalStoreError(w, sess, "get", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAPIJournalEntry(updated))
}

// handleJournalDelete removes a journal entry
func (s *Server) handleJournalDelete(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	id := r.PathValue("id")
	if err := s.store.DeleteEntry(r.Context(), sess.ClientCode, id); err != nil {
		s.journalStoreError(w, sess, "delete", err)
		return
	}
	log.Printf("[DEBUG] journal entry %s of %s deleted", id, sess.ClientCode)
	w.WriteHeader(http.StatusNoContent)
}

// handleJournalStats returns wins, losses and total pnl of the journal
func (s *Server) handleJournalStats(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	stats, err := s.store.JournalStats(r.Context(), sess.ClientCode)
	if err != nil {
		log.Printf("[ERROR] failed to get journal stats of %s: %v", sess.ClientCode, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, toAPIJournalStats(stats))
}

// handleJournalSchema returns JSON schema of the journal entry payload
func (s *Server) handleJournalSchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, journalSchema())
}

// journalSchema reflects journal input, amounts are numbers and actions are a closed set of strings
func journalSchema() *jsonschema.Schema {
	actions := make([]any, 0, len(enums.TradeActionValues))
	for _, a := range enums.TradeActionValues {
		actions = append(actions, a.String())
	}
	r := jsonschema.Reflector{
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t {
			case reflect.TypeOf(broker.Amount{}):
				return &jsonschema.Schema{Type: "number"}
			case reflect.TypeOf(enums.TradeAction{}):
				return &jsonschema.Schema{Type: "string", Enum: actions}
			}
			return nil
		},
	}
	return r.Reflect(&journal.Input{})
}

func (s *Server) decodeJournalInput(w http.ResponseWriter, r *http.Request) (journal.Input, bool) {
	var in journal.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return journal.Input{}, false
	}
	if err := in.Validate(); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return journal.Input{}, false
	}
	return in, true
}

func (s *Server) journalStoreError(w http.ResponseWriter, sess persistence.Session, op string, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "journal entry not found")
		return
	}
	log.Printf("[ERROR] failed to %s journal entry of %s: %v", op, sess.ClientCode, err)
	s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
}

// journalFilter makes store filter from query params
func journalFilter(r *http.Request, clientCode string) (persistence.JournalFilter, error) {
	q := r.URL.Query()
	f := persistence.JournalFilter{ClientCode: clientCode, Symbol: q.Get("symbol"), Limit: defaultJournalLimit}

	if v := q.Get("action"); v != "" {
		action, err := enums.ParseTradeAction(v)
		if err != nil {
			return f, errors.New("action must be BUY or SELL")
		}
		f.Action = action
	}
	for _, d := range []struct {
		name string
		dst  *string
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(d.name)
		if v == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return f, errors.New(d.name + " must be a date in YYYY-MM-DD format")
		}
		*d.dst = v
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return f, errors.New("limit must be a positive number")
		}
		f.Limit = min(limit, maxJournalLimit)
	}
	return f, nil
}
