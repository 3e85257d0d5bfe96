package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/shopspring/decimal"

	"github.com/umputun/tradejournal/app/broker"
	"github.com/umputun/tradejournal/app/web/persistence"
)

var hundred = decimal.NewFromInt(100)

// APIHolding is a holding as returned by the portfolio endpoint
type APIHolding struct {
	Symbol       string        `json:"symbol"`
	Exchange     string        `json:"exchange"`
	Quantity     broker.Amount `json:"quantity"`
	AvgPrice     broker.Amount `json:"avg_price"`
	CurrentPrice broker.Amount `json:"current_price"`
	PnL          broker.Amount `json:"pnl"`
	PnLPercent   broker.Amount `json:"pnl_percent"`
}

// APIPortfolioTotals is the aggregate of all holdings
type APIPortfolioTotals struct {
	Invested   broker.Amount `json:"invested"`
	Current    broker.Amount `json:"current"`
	PnL        broker.Amount `json:"pnl"`
	PnLPercent broker.Amount `json:"pnl_percent"`
}

// APIPortfolio is the response of the portfolio endpoint
type APIPortfolio struct {
	Holdings []APIHolding       `json:"holdings"`
	Totals   APIPortfolioTotals `json:"totals"`
}

// APIOrder is an order as returned by the orders endpoint
type APIOrder struct {
	ID        string        `json:"id"`
	Symbol    string        `json:"symbol"`
	Action    string        `json:"action"`
	OrderType string        `json:"order_type"`
	Quantity  broker.Amount `json:"quantity"`
	Price     broker.Amount `json:"price"`
	Status    string        `json:"status"`
	UpdatedAt string        `json:"updated_at"`
}

// APIJournalStats is the journal aggregate
type APIJournalStats struct {
	Count    int           `json:"count"`
	Wins     int           `json:"wins"`
	Losses   int           `json:"losses"`
	TotalPnL broker.Amount `json:"total_pnl"`
	WinRate  float64       `json:"win_rate"`
}

// APIDashboard collects all dashboard sections, a failed section is reported in Errors
type APIDashboard struct {
	Profile    *broker.Profile     `json:"profile,omitempty"`
	Portfolio  *APIPortfolioTotals `json:"portfolio,omitempty"`
	OpenOrders *int                `json:"open_orders,omitempty"`
	Journal    *APIJournalStats    `json:"journal,omitempty"`
	Errors     map[string]string   `json:"errors,omitempty"`
}

// APISession is a stored session with masked tokens
type APISession struct {
	ClientCode   string    `json:"client_code"`
	JWTToken     string    `json:"jwt_token"`
	RefreshToken string    `json:"refresh_token"`
	AuthMode     string    `json:"auth_mode"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Expired      bool      `json:"expired"`
}

// handleProfile returns the vendor profile of the logged-in client
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	profile, err := s.broker.Profile(r.Context(), sess.JWTToken)
	if err != nil {
		s.brokerError(w, r, sess, "get profile", err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

// handlePortfolio returns holdings with per-holding and total profit
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	holdings, err := s.broker.Holdings(r.Context(), sess.JWTToken)
	if err != nil {
		s.brokerError(w, r, sess, "get holdings", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAPIPortfolio(holdings))
}

// handleOrders returns the order book, optionally filtered by status
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	orders, err := s.broker.OrderBook(r.Context(), sess.JWTToken)
	if err != nil {
		s.brokerError(w, r, sess, "get order book", err)
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	resp := make([]APIOrder, 0, len(orders))
	for _, o := range orders {
		if status != "" && !strings.EqualFold(o.Status, status) {
			continue
		}
		resp = append(resp, toAPIOrder(o))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDashboard fetches profile, holdings, orders and journal stats concurrently.
// Failed sections are reported in errors, the response is 401 only if the vendor rejected the token.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var (
		resp                                     APIDashboard
		profileErr, holdingsErr, ordersErr, jErr error
	)
	grp := syncs.NewSizedGroup(4, syncs.Context(r.Context()))
	grp.Go(func(ctx context.Context) {
		profile, err := s.broker.Profile(ctx, sess.JWTToken)
		if profileErr = err; err == nil {
			resp.Profile = &profile
		}
	})
	grp.Go(func(ctx context.Context) {
		holdings, err := s.broker.Holdings(ctx, sess.JWTToken)
		if holdingsErr = err; err == nil {
			totals := toAPIPortfolio(holdings).Totals
			resp.Portfolio = &totals
		}
	})
	grp.Go(func(ctx context.Context) {
		orders, err := s.broker.OrderBook(ctx, sess.JWTToken)
		if ordersErr = err; err == nil {
			n := countOpenOrders(orders)
			resp.OpenOrders = &n
		}
	})
	grp.Go(func(ctx context.Context) {
		stats, err := s.store.JournalStats(ctx, sess.ClientCode)
		if jErr = err; err == nil {
			st := toAPIJournalStats(stats)
			resp.Journal = &st
		}
	})
	grp.Wait()

	for _, err := range []error{profileErr, holdingsErr, ordersErr} {
		if errors.Is(err, broker.ErrUnauthorized) {
			s.brokerError(w, r, sess, "load dashboard", err)
			return
		}
	}

	sections := map[string]error{"profile": profileErr, "portfolio": holdingsErr, "orders": ordersErr, "journal": jErr}
	for name, err := range sections {
		if err == nil {
			continue
		}
		log.Printf("[WARN] dashboard section %s of %s failed: %v", name, sess.ClientCode, err)
		if resp.Errors == nil {
			resp.Errors = map[string]string{}
		}
		resp.Errors[name] = "failed to load " + name
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleAdminSessions lists stored sessions with masked tokens
func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to list sessions: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	now := s.now()
	resp := make([]APISession, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, APISession{
			ClientCode:   sess.ClientCode,
			JWTToken:     maskToken(sess.JWTToken),
			RefreshToken: maskToken(sess.RefreshToken),
			AuthMode:     sess.AuthMode.String(),
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
			ExpiresAt:    sess.ExpiresAt,
			Expired:      sess.Expired(now),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// brokerError writes the response for a failed vendor call. Rejected token drops the stored session.
func (s *Server) brokerError(w http.ResponseWriter, r *http.Request, sess persistence.Session, op string, err error) {
	if errors.Is(err, broker.ErrUnauthorized) {
		log.Printf("[INFO] broker rejected session of %s on %s, removing it", sess.ClientCode, op)
		if delErr := s.store.DeleteSession(r.Context(), sess.ClientCode); delErr != nil && !errors.Is(delErr, persistence.ErrNotFound) {
			log.Printf("[WARN] failed to delete session of %s: %v", sess.ClientCode, delErr)
		}
		s.event("session of %s rejected by broker", sess.ClientCode)
		s.writeJSONError(w, http.StatusUnauthorized, "broker session expired, login again")
		return
	}
	if errors.Is(err, context.Canceled) {
		log.Printf("[DEBUG] %s for %s canceled", op, sess.ClientCode)
		return
	}
	log.Printf("[WARN] failed to %s for %s: %v", op, sess.ClientCode, err)
	s.writeJSONError(w, http.StatusBadGateway, "failed to "+op)
}

func toAPIPortfolio(holdings []broker.Holding) APIPortfolio {
	res := APIPortfolio{Holdings: make([]APIHolding, 0, len(holdings))}
	invested, current := decimal.Zero, decimal.Zero
	for _, h := range holdings {
		cost := h.AveragePrice.Mul(h.Quantity.Decimal)
		value := h.LTP.Mul(h.Quantity.Decimal)
		invested = invested.Add(cost)
		current = current.Add(value)
		res.Holdings = append(res.Holdings, APIHolding{
			Symbol:       strings.TrimSuffix(h.TradingSymbol, "-EQ"),
			Exchange:     h.Exchange,
			Quantity:     h.Quantity,
			AvgPrice:     h.AveragePrice,
			CurrentPrice: h.LTP,
			PnL:          broker.Amount{Decimal: value.Sub(cost).Round(2)},
			PnLPercent:   broker.Amount{Decimal: percent(value.Sub(cost), cost)},
		})
	}
	sort.SliceStable(res.Holdings, func(i, j int) bool { return res.Holdings[i].Symbol < res.Holdings[j].Symbol })

	pnl := current.Sub(invested)
	res.Totals = APIPortfolioTotals{
		Invested:   broker.Amount{Decimal: invested.Round(2)},
		Current:    broker.Amount{Decimal: current.Round(2)},
		PnL:        broker.Amount{Decimal: pnl.Round(2)},
		PnLPercent: broker.Amount{Decimal: percent(pnl, invested)},
	}
	return res
}

// percent returns part/base*100 rounded to 2 places, zero for zero base
func percent(part, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return part.Div(base).Mul(hundred).Round(2)
}

func toAPIOrder(o broker.Order) APIOrder {
	return APIOrder{
		ID:        o.OrderID,
		Symbol:    strings.TrimSuffix(o.TradingSymbol, "-EQ"),
		Action:    strings.ToUpper(o.TransactionType),
		OrderType: o.OrderType,
		Quantity:  o.Quantity,
		Price:     o.Price,
		Status:    o.Status,
		UpdatedAt: o.UpdateTime,
	}
}

// countOpenOrders counts orders not in a final state
func countOpenOrders(orders []broker.Order) int {
	n := 0
	for _, o := range orders {
		switch strings.ToLower(o.Status) {
		case "complete", "rejected", "cancelled", "canceled":
		default:
			n++
		}
	}
	return n
}

func toAPIJournalStats(st persistence.JournalStats) APIJournalStats {
	return APIJournalStats{
		Count:    st.Count,
		Wins:     st.Wins,
		Losses:   st.Losses,
		TotalPnL: broker.Amount{Decimal: st.TotalPnL},
		WinRate:  st.WinRate,
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
