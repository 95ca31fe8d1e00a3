package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"SpotWire/logger"
)

// ErrAuthentication is returned once every token-fetch path has been
// exhausted.
var ErrAuthentication = errors.New("auth: could not obtain credentials")

// sessionScrapeRegex matches the embedded session blob on the web player
// page, the fallback when the access-token endpoint rejects the cookie.
var sessionScrapeRegex = regexp.MustCompile(
	`(?s)<script id="session" data-testid="session" type="application/json">\s*(.+?)\s*</script>`)

// Credential is one cached token. Replaced wholesale on refresh, never
// partially mutated.
type Credential struct {
	Token       string
	ClientID    string
	ExpiresAtMs int64
	IsAnonymous bool
}

// Valid reports whether the credential is usable at the given time.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && now.UnixMilli() < c.ExpiresAtMs
}

// Store persists raw credential payloads across restarts. Implementations
// are best-effort: a failing store must never fail a token fetch.
type Store interface {
	LoadCredential(ctx context.Context, kind string) []byte
	SaveCredential(ctx context.Context, kind string, raw []byte, ttl time.Duration)
}

const (
	kindBearer = "bearer"
	kindClient = "client"
)

// Provider owns the two independently-expiring credentials of a session:
// the cookie-derived bearer token and the client token derived from it.
// Safe for concurrent use; concurrent refreshes are serialized and callers
// always read the latest cached value.
type Provider struct {
	httpClient *http.Client
	hostname   string
	cookie     func() string
	store      Store
	now        func() time.Time

	mu     sync.Mutex
	bearer *Credential
	client *Credential
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithStore attaches a persistent credential store.
func WithStore(s Store) Option {
	return func(p *Provider) { p.store = s }
}

// NewProvider builds a token provider. cookie is called on every refresh so
// a rotated sp_dc cookie takes effect without restart.
func NewProvider(hostname string, cookie func() string, opts ...Option) *Provider {
	p := &Provider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		hostname:   hostname,
		cookie:     cookie,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Invalidate drops both cached credentials, forcing a refresh on the next
// access. Called when the cookie rotates.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.bearer = nil
	p.client = nil
	p.mu.Unlock()
	logger.Info("cached credentials invalidated")
}

// BearerToken returns a valid bearer credential, refreshing when the cached
// one is absent or expired. The original recursive retry is a bounded loop:
// refresh once, re-check once, fail.
func (p *Provider) BearerToken(ctx context.Context) (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bearer.Valid(p.now()) {
		return p.bearer, nil
	}

	cred, err := p.fetchBearer(ctx)
	if err != nil {
		return nil, err
	}
	if !cred.Valid(p.now()) {
		return nil, fmt.Errorf("%w: fetched bearer token already expired", ErrAuthentication)
	}
	p.bearer = cred
	return p.bearer, nil
}

// AccessToken is a convenience returning just the bearer token string.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	cred, err := p.BearerToken(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// ClientToken returns a valid client token, refreshing when needed. Expiry
// is computed locally from granted_token.expires_after_seconds at issuance.
func (p *Provider) ClientToken(ctx context.Context) (*Credential, error) {
	p.mu.Lock()
	if p.client.Valid(p.now()) {
		defer p.mu.Unlock()
		return p.client, nil
	}
	p.mu.Unlock()

	// The client-token fetch needs the bearer's client id, which may
	// itself refresh; take the lock again only to store the result.
	bearer, err := p.BearerToken(ctx)
	if err != nil {
		return nil, err
	}

	cred, err := p.fetchClientToken(ctx, bearer.ClientID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = cred
	return p.client, nil
}

// bearerResponse is the shape of both the endpoint response and the
// scraped session blob.
type bearerResponse struct {
	AccessToken                      string `json:"accessToken"`
	AccessTokenExpirationTimestampMs int64  `json:"accessTokenExpirationTimestampMs"`
	ClientID                         string `json:"clientId"`
	IsAnonymous                      bool   `json:"isAnonymous"`
}

func (p *Provider) fetchBearer(ctx context.Context) (*Credential, error) {
	if raw := p.loadStored(ctx, kindBearer); raw != nil {
		if cred := parseBearer(raw); cred.Valid(p.now()) {
			logger.Debug("bearer token restored from store")
			return cred, nil
		}
	}

	raw, err := p.fetchBearerRaw(ctx)
	if err != nil {
		return nil, err
	}

	cred := parseBearer(raw)
	if cred.Token == "" {
		return nil, fmt.Errorf("%w: empty bearer response", ErrAuthentication)
	}
	p.saveStored(ctx, kindBearer, raw, cred.ExpiresAtMs)
	logger.Debug("bearer token refreshed",
		logger.Int64("expires_at_ms", cred.ExpiresAtMs),
		logger.Bool("anonymous", cred.IsAnonymous))
	return cred, nil
}

func parseBearer(raw []byte) *Credential {
	var resp bearerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return &Credential{}
	}
	return &Credential{
		Token:       resp.AccessToken,
		ClientID:    resp.ClientID,
		ExpiresAtMs: resp.AccessTokenExpirationTimestampMs,
		IsAnonymous: resp.IsAnonymous,
	}
}

// fetchBearerRaw hits the access-token endpoint and falls back to scraping
// the web player page when it answers with an error status.
func (p *Provider) fetchBearerRaw(ctx context.Context) ([]byte, error) {
	url := fmt.Sprintf("https://open.%s/get_access_token?reason=transport&productType=web-player", p.hostname)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", "sp_dc="+p.cookie())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("access token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Warn("access token endpoint rejected cookie, falling back to page scrape",
			logger.Int("status", resp.StatusCode))
		return p.scrapeBearerRaw(ctx)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (p *Provider) scrapeBearerRaw(ctx context.Context) ([]byte, error) {
	url := fmt.Sprintf("https://open.%s/", p.hostname)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", "sp_dc="+p.cookie())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web player page request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	match := sessionScrapeRegex.FindSubmatch(body)
	if match == nil {
		return nil, fmt.Errorf("%w: no session blob on web player page", ErrAuthentication)
	}
	return match[1], nil
}

type clientTokenResponse struct {
	GrantedToken struct {
		Token               string `json:"token"`
		ExpiresAfterSeconds int64  `json:"expires_after_seconds"`
	} `json:"granted_token"`
}

func (p *Provider) fetchClientToken(ctx context.Context, clientID string) (*Credential, error) {
	if raw := p.loadStored(ctx, kindClient); raw != nil {
		var cred Credential
		if err := json.Unmarshal(raw, &cred); err == nil && cred.Valid(p.now()) {
			logger.Debug("client token restored from store")
			return &cred, nil
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"client_data": map[string]any{
			"client_id":   clientID,
			"js_sdk_data": map[string]any{},
		},
	})

	url := fmt.Sprintf("https://clienttoken.%s/v1/clienttoken", p.hostname)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: client token endpoint returned %d", ErrAuthentication, resp.StatusCode)
	}

	var parsed clientTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("client token response: %w", err)
	}
	if parsed.GrantedToken.Token == "" {
		return nil, fmt.Errorf("%w: empty client token response", ErrAuthentication)
	}

	cred := &Credential{
		Token:       parsed.GrantedToken.Token,
		ClientID:    clientID,
		ExpiresAtMs: p.now().UnixMilli() + parsed.GrantedToken.ExpiresAfterSeconds*1000,
	}
	if raw, err := json.Marshal(cred); err == nil {
		p.saveStored(ctx, kindClient, raw, cred.ExpiresAtMs)
	}
	logger.Debug("client token refreshed", logger.Int64("expires_at_ms", cred.ExpiresAtMs))
	return cred, nil
}

func (p *Provider) loadStored(ctx context.Context, kind string) []byte {
	if p.store == nil {
		return nil
	}
	return p.store.LoadCredential(ctx, kind)
}

func (p *Provider) saveStored(ctx context.Context, kind string, raw []byte, expiresAtMs int64) {
	if p.store == nil {
		return
	}
	ttl := time.Duration(expiresAtMs-p.now().UnixMilli()) * time.Millisecond
	if ttl <= 0 {
		return
	}
	p.store.SaveCredential(ctx, kind, raw, ttl)
}
