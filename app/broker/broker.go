// Package broker implements a client for the Angel One SmartAPI endpoints used by the journal:
// login (password+TOTP and publisher-login redirect), token renewal, profile, holdings,
// order book and logout. Every call is wrapped in the SmartAPI response envelope, transport
// errors and 5xx responses are retried with backoff.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/pquerna/otp/totp"
)

// default SmartAPI endpoints
const (
	DefaultBaseURL  = "https://apiconnect.angelone.in"
	DefaultLoginURL = "https://smartapi.angelone.in/publisher-login"
)

const (
	pathLoginByPassword = "/rest/auth/angelbroking/user/v1/loginByPassword"
	pathGenerateTokens  = "/rest/auth/angelbroking/jwt/v1/generateTokens"
	pathProfile         = "/rest/secure/angelbroking/user/v1/getProfile"
	pathHoldings        = "/rest/secure/angelbroking/portfolio/v1/getHolding"
	pathOrderBook       = "/rest/secure/angelbroking/order/v1/getOrderBook"
	pathLogout          = "/rest/secure/angelbroking/user/v1/logout"

	maxResponseSize = 4 * 1024 * 1024
)

// ErrUnauthorized is returned when the vendor rejects the session token
var ErrUnauthorized = errors.New("broker session is not valid")

// APIError is a non-successful SmartAPI response
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("smartapi error, status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("smartapi error %s: %s", e.Code, e.Message)
}

// error codes SmartAPI returns for invalid, expired or missing tokens
var unauthorizedCodes = map[string]bool{"AG8001": true, "AG8002": true, "AG8003": true}

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Params configures Client
type Params struct {
	APIKey      string
	TOTPSecret  string // base32 secret of the account's authenticator, used for password login
	RedirectURL string // passed to publisher-login as redirect_uri, optional
	BaseURL     string
	LoginURL    string
	LocalIP     string
	PublicIP    string
	MACAddress  string
	Timeout     time.Duration
	Retries     int // attempts per call, 1 means no retries
	HTTPClient  *http.Client
	Repeater    Repeater // overrides default backoff repeater
}

// Client talks to SmartAPI
type Client struct {
	Params
	hc   *http.Client
	rptr Repeater
	now  func() time.Time
}

// LoginRequest holds credentials for password login
type LoginRequest struct {
	ClientCode string `json:"clientcode"`
	Password   string `json:"password"`
	TOTP       string `json:"totp"` // generated from TOTPSecret if empty
}

// Tokens is the result of login or token renewal
type Tokens struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// Profile of the logged-in client
type Profile struct {
	ClientCode string   `json:"clientcode"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	MobileNo   string   `json:"mobileno"`
	Broker     string   `json:"broker"`
	Exchanges  FlexList `json:"exchanges"`
	Products   FlexList `json:"products"`
}

// Holding is a long-term holding in the demat account
type Holding struct {
	TradingSymbol string `json:"tradingsymbol"`
	Exchange      string `json:"exchange"`
	ISIN          string `json:"isin"`
	Product       string `json:"product"`
	Quantity      Amount `json:"quantity"`
	AveragePrice  Amount `json:"averageprice"`
	LTP           Amount `json:"ltp"`
	Close         Amount `json:"close"`
	ProfitAndLoss Amount `json:"profitandloss"`
	PnLPercentage Amount `json:"pnlpercentage"`
}

// Order is an entry of the day's order book
type Order struct {
	OrderID         string `json:"orderid"`
	TradingSymbol   string `json:"tradingsymbol"`
	Exchange        string `json:"exchange"`
	Variety         string `json:"variety"`
	TransactionType string `json:"transactiontype"`
	OrderType       string `json:"ordertype"`
	ProductType     string `json:"producttype"`
	Quantity        Amount `json:"quantity"`
	Price           Amount `json:"price"`
	AveragePrice    Amount `json:"averageprice"`
	FilledShares    Amount `json:"filledshares"`
	Status          string `json:"status"`
	Text            string `json:"text"`
	UpdateTime      string `json:"updatetime"`
}

type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// New makes a Client with defaults applied to empty params
func New(p Params) *Client {
	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	p.BaseURL = strings.TrimSuffix(p.BaseURL, "/")
	if p.LoginURL == "" {
		p.LoginURL = DefaultLoginURL
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.Retries <= 0 {
		p.Retries = 1
	}
	if p.LocalIP == "" {
		p.LocalIP = "127.0.0.1"
	}
	if p.PublicIP == "" {
		p.PublicIP = "127.0.0.1"
	}
	if p.MACAddress == "" {
		p.MACAddress = "fe:80::1"
	}

	res := &Client{Params: p, hc: p.HTTPClient, rptr: p.Repeater, now: time.Now}
	if res.hc == nil {
		res.hc = &http.Client{Timeout: p.Timeout}
	}
	if res.rptr == nil {
		res.rptr = repeater.New(&strategy.Backoff{Repeats: p.Retries, Duration: 300 * time.Millisecond, Factor: 2, Jitter: true})
	}
	return res
}

// PublisherLoginURL makes the vendor login page URL the browser is redirected to
func (c *Client) PublisherLoginURL(state string) string {
	u, err := url.Parse(c.LoginURL)
	if err != nil {
		log.Printf("[WARN] invalid publisher login url %q: %v", c.LoginURL, err)
		return c.LoginURL
	}
	q := u.Query()
	q.Set("api_key", c.APIKey)
	if c.RedirectURL != "" {
		q.Set("redirect_uri", c.RedirectURL)
	}
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String()
}

// LoginByPassword logs in with client code, password (PIN) and TOTP
func (c *Client) LoginByPassword(ctx context.Context, req LoginRequest) (Tokens, error) {
	if req.ClientCode == "" || req.Password == "" {
		return Tokens{}, errors.New("client code and password are required")
	}
	if req.TOTP == "" {
		code, err := c.TOTP()
		if err != nil {
			return Tokens{}, err
		}
		req.TOTP = code
	}

	var res Tokens
	if err := c.do(ctx, http.MethodPost, pathLoginByPassword, "", req, &res); err != nil {
		return Tokens{}, fmt.Errorf("failed to login %s: %w", req.ClientCode, err)
	}
	if res.JWTToken == "" {
		return Tokens{}, fmt.Errorf("failed to login %s: empty jwt token in response", req.ClientCode)
	}
	return res, nil
}

// TOTP generates the current one-time code from the configured secret
func (c *Client) TOTP() (string, error) {
	if c.TOTPSecret == "" {
		return "", errors.New("totp secret is not configured")
	}
	code, err := totp.GenerateCode(strings.ReplaceAll(c.TOTPSecret, " ", ""), c.now())
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return code, nil
}

// GenerateTokens renews the jwt token with the refresh token
func (c *Client) GenerateTokens(ctx context.Context, jwt, refreshToken string) (Tokens, error) {
	if refreshToken == "" {
		return Tokens{}, errors.New("refresh token is required")
	}
	var res Tokens
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, http.MethodPost, pathGenerateTokens, jwt, body, &res); err != nil {
		return Tokens{}, fmt.Errorf("failed to renew tokens: %w", err)
	}
	if res.JWTToken == "" {
		return Tokens{}, errors.New("failed to renew tokens: empty jwt token in response")
	}
	if res.RefreshToken == "" {
		res.RefreshToken = refreshToken
	}
	return res, nil
}

// Profile returns the profile of the session owner
func (c *Client) Profile(ctx context.Context, jwt string) (Profile, error) {
	var res Profile
	if err := c.do(ctx, http.MethodGet, pathProfile, jwt, nil, &res); err != nil {
		return Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return res, nil
}

// Holdings returns demat holdings, empty list if there are none
func (c *Client) Holdings(ctx context.Context, jwt string) ([]Holding, error) {
	res := []Holding{}
	if err := c.do(ctx, http.MethodGet, pathHoldings, jwt, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	return res, nil
}

// OrderBook returns today's orders, empty list if there are none
func (c *Client) OrderBook(ctx context.Context, jwt string) ([]Order, error) {
	res := []Order{}
	if err := c.do(ctx, http.MethodGet, pathOrderBook, jwt, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to get order book: %w", err)
	}
	return res, nil
}

// Logout terminates the vendor session
func (c *Client) Logout(ctx context.Context, jwt, clientCode string) error {
	body := map[string]string{"clientcode": clientCode}
	if err := c.do(ctx, http.MethodPost, pathLogout, jwt, body, nil); err != nil {
		return fmt.Errorf("failed to logout %s: %w", clientCode, err)
	}
	return nil
}

// do sends the request and decodes data of the response envelope into out.
// Only transport errors and 5xx are retried, other failures stop the repeater right away.
func (c *Client) do(ctx context.Context, method, path, jwt string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var env envelope
	var permanent error
	err := c.rptr.Do(ctx, func() error {
		var reqBody io.Reader = http.NoBody
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
		if err != nil {
			permanent = fmt.Errorf("failed to create request: %w", err)
			return nil
		}
		c.setHeaders(req, jwt)

		resp, err := c.hc.Do(req)
		if err != nil {
			log.Printf("[DEBUG] smartapi %s %s failed: %v", method, path, err)
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				log.Printf("[WARN] failed to close response body: %v", closeErr)
			}
		}()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			log.Printf("[DEBUG] smartapi %s %s returned %d", method, path, resp.StatusCode)
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			permanent = ErrUnauthorized
			return nil
		case resp.StatusCode != http.StatusOK:
			permanent = &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
			return nil
		}

		if err := json.Unmarshal(data, &env); err != nil {
			permanent = fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if permanent != nil {
		return permanent
	}

	if !env.Status {
		if unauthorizedCodes[env.ErrorCode] {
			return fmt.Errorf("%w: %s", ErrUnauthorized, env.Message)
		}
		return &APIError{StatusCode: http.StatusOK, Code: env.ErrorCode, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, jwt string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", c.LocalIP)
	req.Header.Set("X-ClientPublicIP", c.PublicIP)
	req.Header.Set("X-MACAddress", c.MACAddress)
	req.Header.Set("X-PrivateKey", c.APIKey)
	if jwt != "" {
		req.Header.Set("Authorization", "Bearer "+jwt)
	}
}
