package web

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/crypto/bcrypt"

	"github.com/umputun/tradejournal/app/broker"
	"github.com/umputun/tradejournal/app/expiry"
	"github.com/umputun/tradejournal/app/web/enums"
	"github.com/umputun/tradejournal/app/web/persistence"
)

const (
	stateCookieName = "tj-oauth-state"
	adminUser       = "admin"
)

type ctxKey string

const sessionCtxKey ctxKey = "session"

// handleAuthStart redirects the browser to the vendor login page with a fresh state
func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	state, err := newState()
	if err != nil {
		log.Printf("[ERROR] failed to generate login state: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.states.Set(state, s.now(), 0)

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(s.stateTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isSecure(r),
	})
	log.Printf("[DEBUG] login started, state %s", maskToken(state))
	http.Redirect(w, r, s.broker.PublisherLoginURL(state), http.StatusFound)
}

// handleCallback completes the login after the vendor redirected back to us.
// Publisher login passes auth_token, refresh_token and feed_token; without them the
// server logs in directly with the configured credentials.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !s.consumeState(r, q.Get("state")) {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid state parameter or session missing")
		return
	}
	clearStateCookie(w, r)

	var sess persistence.Session
	var err error
	if authToken := q.Get("auth_token"); authToken != "" {
		sess, err = s.publisherSession(r.Context(), authToken, q.Get("refresh_token"), q.Get("feed_token"))
	} else {
		sess, err = s.passwordSession(r.Context(), "")
	}
	if err != nil {
		log.Printf("[WARN] broker login for %s failed: %v", s.clientCode, err)
		s.event("login of %s failed", s.clientCode)
		s.writeJSONError(w, http.StatusBadGateway, "broker login failed")
		return
	}

	if err := s.store.SaveSession(r.Context(), sess); err != nil {
		log.Printf("[ERROR] failed to save session of %s: %v", sess.ClientCode, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	log.Printf("[INFO] %s logged in with %s mode, token %s", sess.ClientCode, sess.AuthMode, maskToken(sess.JWTToken))
	s.event("%s logged in (%s)", sess.ClientCode, sess.AuthMode)

	if s.frontendURL == "" {
		s.writeJSON(w, http.StatusOK, loginResponse(sess))
		return
	}
	target, err := redirectURL(s.frontendURL, sess.JWTToken)
	if err != nil {
		log.Printf("[ERROR] invalid frontend url %q: %v", s.frontendURL, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleDirectLogin logs in with password and TOTP without the vendor redirect
func (s *Server) handleDirectLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TOTP string `json:"totp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.passwordSession(r.Context(), strings.TrimSpace(req.TOTP))
	if err != nil {
		log.Printf("[WARN] direct login for %s failed: %v", s.clientCode, err)
		s.event("login of %s failed", s.clientCode)
		s.writeJSONError(w, http.StatusBadGateway, "broker login failed")
		return
	}
	if err := s.store.SaveSession(r.Context(), sess); err != nil {
		log.Printf("[ERROR] failed to save session of %s: %v", sess.ClientCode, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	log.Printf("[INFO] %s logged in directly, token %s", sess.ClientCode, maskToken(sess.JWTToken))
	s.event("%s logged in (%s)", sess.ClientCode, sess.AuthMode)
	s.writeJSON(w, http.StatusOK, loginResponse(sess))
}

// handleVerify reports whether a usable session is stored and, if a bearer token is given,
// whether it matches the stored one
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	notAuthenticated := map[string]any{"valid": false, "message": "User not authenticated"}

	sess, err := s.store.GetSession(r.Context(), s.clientCode)
	if errors.Is(err, persistence.ErrNotFound) {
		s.writeJSON(w, http.StatusUnauthorized, notAuthenticated)
		return
	}
	if err != nil {
		log.Printf("[ERROR] failed to load session of %s: %v", s.clientCode, err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"valid": false, "message": "Internal server error"})
		return
	}
	if sess.Expired(s.now()) {
		s.writeJSON(w, http.StatusUnauthorized, notAuthenticated)
		return
	}

	if token, ok := bearerToken(r); ok && !tokensEqual(token, sess.JWTToken) {
		s.writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false, "message": "Invalid token"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"user":  map[string]string{"clientcode": sess.ClientCode},
		"token": sess.JWTToken,
	})
}

// handleRefresh renews the vendor session with the stored refresh token
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if sess.RefreshToken == "" {
		s.writeJSONError(w, http.StatusConflict, "no refresh token stored, login again")
		return
	}
	tokens, err := s.broker.GenerateTokens(r.Context(), sess.JWTToken, sess.RefreshToken)
	if err != nil {
		s.brokerError(w, r, sess, "refresh tokens", err)
		return
	}

	now := s.now()
	sess.JWTToken = tokens.JWTToken
	sess.RefreshToken = tokens.RefreshToken
	if tokens.FeedToken != "" {
		sess.FeedToken = tokens.FeedToken
	}
	sess.AuthMode = enums.AuthModeRefresh
	sess.UpdatedAt = now
	sess.ExpiresAt = expiry.NextReset(now, s.location)
	if err := s.store.SaveSession(r.Context(), sess); err != nil {
		log.Printf("[ERROR] failed to save refreshed session of %s: %v", sess.ClientCode, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	log.Printf("[INFO] session of %s refreshed, token %s", sess.ClientCode, maskToken(sess.JWTToken))
	s.writeJSON(w, http.StatusOK, loginResponse(sess))
}

// handleLogout ends the vendor session and removes the stored one
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if err := s.broker.Logout(r.Context(), sess.JWTToken, sess.ClientCode); err != nil {
		log.Printf("[WARN] vendor logout of %s failed: %v", sess.ClientCode, err)
	}
	if err := s.store.DeleteSession(r.Context(), sess.ClientCode); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		log.Printf("[ERROR] failed to delete session of %s: %v", sess.ClientCode, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	log.Printf("[INFO] %s logged out", sess.ClientCode)
	s.event("%s logged out", sess.ClientCode)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bearerAuth allows requests carrying the stored, not expired token and puts the session to context
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tradejournal"`)
			s.writeJSONError(w, http.StatusUnauthorized, "User not authenticated")
			return
		}

		sess, err := s.store.GetSession(r.Context(), s.clientCode)
		if err != nil {
			if !errors.Is(err, persistence.ErrNotFound) {
				log.Printf("[WARN] failed to load session of %s: %v", s.clientCode, err)
			}
			s.writeJSONError(w, http.StatusUnauthorized, "User not authenticated")
			return
		}
		if sess.Expired(s.now()) || !tokensEqual(token, sess.JWTToken) {
			s.writeJSONError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionCtxKey, sess)))
	})
}

// adminAuth checks basic auth credentials against the configured bcrypt hash
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok && username == adminUser {
			if err := bcrypt.CompareHashAndPassword([]byte(s.adminPasswordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="tradejournal admin"`)
		s.writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

// passwordSession logs in with configured client code and password, totp is generated when empty
func (s *Server) passwordSession(ctx context.Context, totp string) (persistence.Session, error) {
	if s.password == "" {
		return persistence.Session{}, errors.New("broker password is not configured")
	}
	tokens, err := s.broker.LoginByPassword(ctx, broker.LoginRequest{ClientCode: s.clientCode, Password: s.password, TOTP: totp})
	if err != nil {
		return persistence.Session{}, err
	}
	return s.newSession(tokens, enums.AuthModePassword), nil
}

// publisherSession makes session from tokens passed by publisher login, the token is checked with a profile call
func (s *Server) publisherSession(ctx context.Context, authToken, refreshToken, feedToken string) (persistence.Session, error) {
	profile, err := s.broker.Profile(ctx, authToken)
	if err != nil {
		return persistence.Session{}, fmt.Errorf("failed to validate auth token: %w", err)
	}
	if profile.ClientCode != "" && !strings.EqualFold(profile.ClientCode, s.clientCode) {
		return persistence.Session{}, fmt.Errorf("auth token belongs to %s, expected %s", profile.ClientCode, s.clientCode)
	}
	tokens := broker.Tokens{JWTToken: authToken, RefreshToken: refreshToken, FeedToken: feedToken}
	return s.newSession(tokens, enums.AuthModePublisher), nil
}

func (s *Server) newSession(tokens broker.Tokens, mode enums.AuthMode) persistence.Session {
	now := s.now()
	return persistence.Session{
		ClientCode:   s.clientCode,
		JWTToken:     tokens.JWTToken,
		RefreshToken: tokens.RefreshToken,
		FeedToken:    tokens.FeedToken,
		AuthMode:     mode,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    expiry.NextReset(now, s.location),
	}
}

// consumeState checks the state against the cookie and the cache, a state can be used only once
func (s *Server) consumeState(r *http.Request, state string) bool {
	if state == "" {
		return false
	}
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		return false
	}

	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	created, ok := s.states.Get(state)
	if !ok {
		return false
	}
	s.states.Invalidate(state)
	return s.now().Sub(created) <= s.stateTTL
}

func (s *Server) event(format string, args ...any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Event(format, args...)
}

func loginResponse(sess persistence.Session) map[string]any {
	return map[string]any{
		"token":       sess.JWTToken,
		"client_code": sess.ClientCode,
		"expires_at":  sess.ExpiresAt,
	}
}

// redirectURL adds auth_token to the frontend url keeping its query params
func redirectURL(frontend, token string) (string, error) {
	u, err := url.Parse(frontend)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	q := u.Query()
	q.Set("auth_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sessionFrom(ctx context.Context) persistence.Session {
	sess, _ := ctx.Value(sessionCtxKey).(persistence.Session)
	return sess
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func clearStateCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isSecure(r),
	})
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
