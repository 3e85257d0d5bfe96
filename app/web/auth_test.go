package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/tradejournal/app/broker"
	"github.com/umputun/tradejournal/app/web/enums"
	"github.com/umputun/tradejournal/app/web/mocks"
	"github.com/umputun/tradejournal/app/web/persistence"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (e *eventRecorder) Event(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, fmt.Sprintf(format, args...))
}

func (e *eventRecorder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

func loginBroker() *mocks.BrokerMock {
	return &mocks.BrokerMock{
		PublisherLoginURLFunc: func(state string) string {
			return "https://smartapi.test/publisher-login?api_key=key&state=" + state
		},
		LoginByPasswordFunc: func(_ context.Context, req broker.LoginRequest) (broker.Tokens, error) {
			if req.Password != "1234" {
				return broker.Tokens{}, &broker.APIError{StatusCode: http.StatusOK, Code: "AB1050", Message: "Invalid totp"}
			}
			return broker.Tokens{JWTToken: testToken, RefreshToken: "refresh-1", FeedToken: "feed-1"}, nil
		},
		ProfileFunc: func(_ context.Context, jwt string) (broker.Profile, error) {
			if jwt == "bad-token" {
				return broker.Profile{}, broker.ErrUnauthorized
			}
			return broker.Profile{ClientCode: testClientCode}, nil
		},
	}
}

// startLogin calls the login start endpoint and returns state from the redirect location
func startLogin(t *testing.T, handler http.Handler) (state string, cookie *http.Cookie) {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/angel-one", http.NoBody))
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state = loc.Query().Get("state")
	require.Len(t, state, 32)

	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, state, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	return state, cookie
}

func TestServer_LoginFlow(t *testing.T) {
	brk := loginBroker()
	events := &eventRecorder{}
	srv, store := prepTestServer(t, brk, func(c *Config) { c.Notifier = events })
	handler := srv.routes()

	state, cookie := startLogin(t, handler)

	t.Run("callback with password login", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/auth/callback?state="+state, http.NoBody)
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusFound, w.Code, w.Body.String())

		loc, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "localhost:3000", loc.Host)
		assert.Equal(t, "/dashboard", loc.Path)
		assert.Equal(t, testToken, loc.Query().Get("auth_token"))

		require.Len(t, brk.LoginByPasswordCalls(), 1)
		call := brk.LoginByPasswordCalls()[0]
		assert.Equal(t, testClientCode, call.Req.ClientCode)
		assert.Empty(t, call.Req.TOTP, "totp is generated by the broker client")

		sess, err := store.GetSession(context.Background(), testClientCode)
		require.NoError(t, err)
		assert.Equal(t, testToken, sess.JWTToken)
		assert.Equal(t, "refresh-1", sess.RefreshToken)
		assert.Equal(t, enums.AuthModePassword, sess.AuthMode)
		assert.True(t, sess.ExpiresAt.After(time.Now()))
		assert.Equal(t, 0, sess.ExpiresAt.UTC().Hour())
		assert.Equal(t, 1, events.count())
	})

	t.Run("state is single use", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/auth/callback?state="+state, http.NoBody)
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"Invalid state parameter or session missing"}`, w.Body.String())
		assert.Len(t, brk.LoginByPasswordCalls(), 1)
	})

	t.Run("verify with stored token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authRequest("GET", "/auth/verify"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"valid":true,"user":{"clientcode":"A123456"},"token":"`+testToken+`"}`, w.Body.String())
	})
}

func TestServer_handleCallback(t *testing.T) {
	tests := []struct {
		name       string
		query      func(state string) string
		noCookie   bool
		password   string
		wantStatus int
		wantBody   string
		wantMode   enums.AuthMode
	}{
		{name: "missing state", query: func(string) string { return "" }, wantStatus: http.StatusBadRequest,
			wantBody: `{"error":"Invalid state parameter or session missing"}`},
		{name: "wrong state", query: func(string) string { return "state=deadbeef" }, wantStatus: http.StatusBadRequest,
			wantBody: `{"error":"Invalid state parameter or session missing"}`},
		{name: "no cookie", query: func(s string) string { return "state=" + s }, noCookie: true,
			wantStatus: http.StatusBadRequest, wantBody: `{"error":"Invalid state parameter or session missing"}`},
		{name: "publisher login", query: func(s string) string {
			return "state=" + s + "&auth_token=pub-jwt&refresh_token=pub-refresh&feed_token=pub-feed"
		}, wantStatus: http.StatusFound, wantMode: enums.AuthModePublisher},
		{name: "publisher token rejected", query: func(s string) string { return "state=" + s + "&auth_token=bad-token" },
			wantStatus: http.StatusBadGateway, wantBody: `{"error":"broker login failed"}`},
		{name: "password login rejected", query: func(s string) string { return "state=" + s }, password: "wrong",
			wantStatus: http.StatusBadGateway, wantBody: `{"error":"broker login failed"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store := prepTestServer(t, loginBroker(), func(c *Config) {
				if tt.password != "" {
					c.Password = tt.password
				}
			})
			handler := srv.routes()
			state, cookie := startLogin(t, handler)

			req := httptest.NewRequest("GET", "/auth/callback?"+tt.query(state), http.NoBody)
			if !tt.noCookie {
				req.AddCookie(cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}

			sess, err := store.GetSession(context.Background(), testClientCode)
			if tt.wantStatus != http.StatusFound {
				require.ErrorIs(t, err, persistence.ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, sess.AuthMode)
		})
	}
}

func TestServer_handleCallback_PublisherSession(t *testing.T) {
	srv, store := prepTestServer(t, loginBroker())
	handler := srv.routes()
	state, cookie := startLogin(t, handler)

	req := httptest.NewRequest("GET", "/auth/callback?state="+state+"&auth_token=pub-jwt&refresh_token=pub-refresh&feed_token=pub-feed", http.NoBody)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "auth_token=pub-jwt")

	sess, err := store.GetSession(context.Background(), testClientCode)
	require.NoError(t, err)
	assert.Equal(t, "pub-jwt", sess.JWTToken)
	assert.Equal(t, "pub-refresh", sess.RefreshToken)
	assert.Equal(t, "pub-feed", sess.FeedToken)
}

func TestServer_handleCallback_ExpiredState(t *testing.T) {
	srv, _ := prepTestServer(t, loginBroker(), func(c *Config) { c.StateTTL = time.Minute })
	handler := srv.routes()
	state, cookie := startLogin(t, handler)

	srv.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	req := httptest.NewRequest("GET", "/auth/callback?state="+state, http.NoBody)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_handleCallback_NoFrontend(t *testing.T) {
	srv, _ := prepTestServer(t, loginBroker(), func(c *Config) { c.FrontendURL = "" })
	handler := srv.routes()
	state, cookie := startLogin(t, handler)

	req := httptest.NewRequest("GET", "/auth/callback?state="+state, http.NoBody)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token      string `json:"token"`
		ClientCode string `json:"client_code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testToken, resp.Token)
	assert.Equal(t, testClientCode, resp.ClientCode)
}

func TestServer_handleAuthStartRateLimited(t *testing.T) {
	srv, _ := prepTestServer(t, loginBroker(), func(c *Config) { c.LoginRate = 0.01 })
	handler := srv.routes()

	codes := make([]int, 0, 12)
	for range 12 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/angel-one", http.NoBody))
		codes = append(codes, w.Code)
	}
	for i, code := range codes[:10] {
		assert.Equal(t, http.StatusFound, code, "request #%d", i+1)
	}
	assert.Contains(t, codes[10:], http.StatusTooManyRequests)
	assert.LessOrEqual(t, srv.states.Len(), 10, "limited requests add no pending state")
}

func TestServer_handleDirectLogin(t *testing.T) {
	t.Run("generated totp", func(t *testing.T) {
		brk := loginBroker()
		srv, store := prepTestServer(t, brk)
		w := httptest.NewRecorder()
		srv.routes().ServeHTTP(w, httptest.NewRequest("POST", "/auth/login", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"token":"`+testToken+`"`)
		assert.Contains(t, w.Body.String(), `"client_code":"A123456"`)

		_, err := store.GetSession(context.Background(), testClientCode)
		require.NoError(t, err)
		assert.Empty(t, brk.LoginByPasswordCalls()[0].Req.TOTP)
	})

	t.Run("explicit totp", func(t *testing.T) {
		brk := loginBroker()
		srv, _ := prepTestServer(t, brk)
		w := httptest.NewRecorder()
		srv.routes().ServeHTTP(w, httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"totp":" 123456 "}`)))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "123456", brk.LoginByPasswordCalls()[0].Req.TOTP)
	})

	t.Run("bad body", func(t *testing.T) {
		srv, _ := prepTestServer(t, loginBroker())
		w := httptest.NewRecorder()
		srv.routes().ServeHTTP(w, httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"totp":`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no password configured", func(t *testing.T) {
		brk := loginBroker()
		srv, _ := prepTestServer(t, brk, func(c *Config) { c.Password = "" })
		w := httptest.NewRecorder()
		srv.routes().ServeHTTP(w, httptest.NewRequest("POST", "/auth/login", http.NoBody))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Empty(t, brk.LoginByPasswordCalls())
	})

	t.Run("rate limited", func(t *testing.T) {
		srv, _ := prepTestServer(t, loginBroker(), func(c *Config) { c.LoginRate = 0.01 })
		handler := srv.routes()

		codes := make([]int, 0, 3)
		for range 3 {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("POST", "/auth/login", http.NoBody))
			codes = append(codes, w.Code)
		}
		assert.Equal(t, http.StatusOK, codes[0])
		assert.Contains(t, codes[1:], http.StatusTooManyRequests)
	})
}

func TestServer_handleVerify(t *testing.T) {
	tests := []struct {
		name       string
		session    *persistence.Session
		bearer     string
		wantStatus int
		wantBody   string
	}{
		{name: "no session", wantStatus: http.StatusUnauthorized,
			wantBody: `{"valid":false,"message":"User not authenticated"}`},
		{name: "expired session", session: &persistence.Session{ClientCode: testClientCode, JWTToken: testToken,
			ExpiresAt: time.Now().Add(-time.Minute)}, wantStatus: http.StatusUnauthorized,
			wantBody: `{"valid":false,"message":"User not authenticated"}`},
		{name: "token mismatch", session: &persistence.Session{ClientCode: testClientCode, JWTToken: testToken,
			ExpiresAt: time.Now().Add(time.Hour)}, bearer: "other", wantStatus: http.StatusUnauthorized,
			wantBody: `{"valid":false,"message":"Invalid token"}`},
		{name: "valid without bearer", session: &persistence.Session{ClientCode: testClientCode, JWTToken: testToken,
			ExpiresAt: time.Now().Add(time.Hour)}, wantStatus: http.StatusOK,
			wantBody: `{"valid":true,"user":{"clientcode":"A123456"},"token":"` + testToken + `"}`},
		{name: "valid with bearer", session: &persistence.Session{ClientCode: testClientCode, JWTToken: testToken,
			ExpiresAt: time.Now().Add(time.Hour)}, bearer: testToken, wantStatus: http.StatusOK,
			wantBody: `{"valid":true,"user":{"clientcode":"A123456"},"token":"` + testToken + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store := prepTestServer(t, &mocks.BrokerMock{})
			if tt.session != nil {
				require.NoError(t, store.SaveSession(context.Background(), *tt.session))
			}
			req := httptest.NewRequest("GET", "/auth/verify", http.NoBody)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			srv.handleVerify(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}

	t.Run("storage failure", func(t *testing.T) {
		srv, store := prepTestServer(t, &mocks.BrokerMock{})
		saveTestSession(t, store)
		require.NoError(t, store.Close())

		w := httptest.NewRecorder()
		srv.handleVerify(w, authRequest("GET", "/auth/verify"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"valid":false,"message":"Internal server error"}`, w.Body.String())
	})
}

func TestServer_handleRefresh(t *testing.T) {
	t.Run("renews tokens", func(t *testing.T) {
		brk := &mocks.BrokerMock{
			GenerateTokensFunc: func(_ context.Context, jwt, refresh string) (broker.Tokens, error) {
				return broker.Tokens{JWTToken: "new-jwt", RefreshToken: refresh}, nil
			},
		}
		srv, store := prepTestServer(t, brk)
		saveTestSession(t, store)

		w := httptest.NewRecorder()
		srv.routes().ServeHTTP(w, authRequest("POST", "/auth/refresh"))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"token":"new-jwt"`)

		require.Len(t, brk.GenerateTokensCalls(), 1)
		assert.Equal(t, testToken, brk.GenerateTokensCalls()[0].Jwt)
		assert.Equal(t, "refresh-1", brk.GenerateTokensCalls()[0].RefreshToken)

		sess, err := store.GetSession(context.Background(), testClientCode)
		require.NoError(t, err)
		assert.Equal(t, "new-jwt", sess.JWTToken)
		assert.Equal(t, "feed-1", sess.FeedToken, "feed token kept")
		assert.Equal(t, enums.AuthModeRefresh, sess.AuthMode)
	})

	t.Run("no refresh token stored", func(t *testing.T) {
		brk := &mocks.BrokerMock{}
		srv, store := prepTestServer(t, brk)
		sess := saveTestSession(t, store)
		sess.RefreshToken = ""
		require.NoError(t, store.SaveSession(context.Background(), sess))

		w := httptest.NewRecorder()
		srv.routes().ServeHTTP(w, authRequest("POST", "/auth/refresh"))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.JSONEq(t, `{"error":"no refresh token stored, login again"}`, w.Body.String())
		assert.Empty(t, brk.GenerateTokensCalls())

		_, err := store.GetSession(context.Background(), testClientCode)
		require.NoError(t, err, "session kept")
	})

	t.Run("rejected refresh drops session", func(t *testing.T) {
		brk := &mocks.BrokerMock{
			GenerateTokensFunc: func(context.Context, string, string) (broker.Tokens, error) {
				return broker.Tokens{}, broker.ErrUnauthorized
			},
		}
		srv, store := prepTestServer(t, brk)
		saveTestSession(t, store)

		w := httptest.NewRecorder()
		srv.routes().ServeHTTP(w, authRequest("POST", "/auth/refresh"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		_, err := store.GetSession(context.Background(), testClientCode)
		require.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("vendor failure", func(t *testing.T) {
		brk := &mocks.BrokerMock{
			GenerateTokensFunc: func(context.Context, string, string) (broker.Tokens, error) {
				return broker.Tokens{}, errors.New("connection reset")
			},
		}
		srv, store := prepTestServer(t, brk)
		saveTestSession(t, store)

		w := httptest.NewRecorder()
		srv.routes().ServeHTTP(w, authRequest("POST", "/auth/refresh"))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		_, err := store.GetSession(context.Background(), testClientCode)
		require.NoError(t, err)
	})
}

func TestServer_handleLogout(t *testing.T) {
	brk := &mocks.BrokerMock{
		LogoutFunc: func(context.Context, string, string) error { return errors.New("vendor is down") },
	}
	events := &eventRecorder{}
	srv, store := prepTestServer(t, brk, func(c *Config) { c.Notifier = events })
	saveTestSession(t, store)

	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, authRequest("POST", "/auth/logout"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	require.Len(t, brk.LogoutCalls(), 1)
	assert.Equal(t, testClientCode, brk.LogoutCalls()[0].ClientCode)
	_, err := store.GetSession(context.Background(), testClientCode)
	require.ErrorIs(t, err, persistence.ErrNotFound)
	assert.Equal(t, 1, events.count())

	// token is no longer accepted
	w = httptest.NewRecorder()
	srv.routes().ServeHTTP(w, authRequest("POST", "/auth/logout"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_bearerAuth(t *testing.T) {
	srv, store := prepTestServer(t, &mocks.BrokerMock{})
	sess := saveTestSession(t, store)

	var got persistence.Session
	handler := srv.bearerAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = sessionFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid", "Bearer " + testToken, http.StatusOK},
		{"lowercase scheme", "bearer " + testToken, http.StatusOK},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "Basic " + testToken, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"no header", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
	assert.Equal(t, sess.JWTToken, got.JWTToken)

	t.Run("expired session", func(t *testing.T) {
		srv.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { srv.now = time.Now }()
		req := httptest.NewRequest("GET", "/", http.NoBody)
		req.Header.Set("Authorization", "Bearer "+testToken)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestServer_adminAuth(t *testing.T) {
	srv, store := prepTestServer(t, &mocks.BrokerMock{}, func(c *Config) { c.AdminPasswordHash = testAdminHash })
	saveTestSession(t, store)
	handler := srv.routes()

	tests := []struct {
		name       string
		user, pass string
		wantStatus int
	}{
		{"valid credentials", "admin", "testpass", http.StatusOK},
		{"wrong password", "admin", "wrong", http.StatusUnauthorized},
		{"wrong user", "root", "testpass", http.StatusUnauthorized},
		{"no credentials", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin/sessions", http.NoBody)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
			}
		})
	}
}

func TestRedirectURL(t *testing.T) {
	got, err := redirectURL("http://localhost:3000/dashboard?tab=portfolio", "tok")
	require.NoError(t, err)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "portfolio", u.Query().Get("tab"))
	assert.Equal(t, "tok", u.Query().Get("auth_token"))

	_, err = redirectURL("http://[::1", "tok")
	require.Error(t, err)
}
