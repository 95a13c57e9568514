package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Code == "" && e.Msg == "" {
		return fmt.Sprintf("erp api error: status=%d", e.Status)
	}
	return fmt.Sprintf("erp api error: status=%d code=%s msg=%s", e.Status, e.Code, e.Msg)
}

type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	RatePerSecond float64
}

const defaultRatePerSecond = 20

// ConfigFromEnv reads ERP_BASE_URL, ERP_CLIENT_ID, ERP_CLIENT_SECRET and
// ERP_RATE_PER_SECOND.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:       strings.TrimSpace(os.Getenv("ERP_BASE_URL")),
		ClientID:      strings.TrimSpace(os.Getenv("ERP_CLIENT_ID")),
		ClientSecret:  strings.TrimSpace(os.Getenv("ERP_CLIENT_SECRET")),
		RatePerSecond: defaultRatePerSecond,
	}
	if raw := strings.TrimSpace(os.Getenv("ERP_RATE_PER_SECOND")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return Config{}, fmt.Errorf("invalid ERP_RATE_PER_SECOND: %q", raw)
		}
		cfg.RatePerSecond = v
	}
	if cfg.BaseURL == "" {
		return Config{}, errors.New("ERP_BASE_URL is required")
	}
	return cfg, nil
}

type Client struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	limiter *rate.Limiter
}

// NewClient builds an ERP client; RatePerSecond 0 disables throttling.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = max(1, int(cfg.RatePerSecond))
	}
	return &Client{
		BaseURL:      cfg.BaseURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		HTTPClient:   httpClient,
		limiter:      rate.NewLimiter(limit, burst),
	}
}

func (c *Client) endpoint(path string) (*url.URL, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("erp base_url is required")
	}
	return url.Parse(baseURL + path)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// GetAccessToken runs the OAuth2 client-credentials grant.
func (c *Client) GetAccessToken(ctx context.Context) (token string, expiresInSeconds int64, _ error) {
	clientID := strings.TrimSpace(c.ClientID)
	if clientID == "" {
		return "", 0, errors.New("erp client_id is required")
	}
	secret := strings.TrimSpace(c.ClientSecret)
	if secret == "" {
		return "", 0, errors.New("erp client_secret is required")
	}
	u, err := c.endpoint("/oauth/token")
	if err != nil {
		return "", 0, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", secret)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(body, &tr)
		if tr.Error == "" {
			tr.ErrorDesc = string(body)
		}
		return "", 0, &APIError{Status: resp.StatusCode, Code: tr.Error, Msg: tr.ErrorDesc}
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, err
	}
	if strings.TrimSpace(tr.AccessToken) == "" {
		return "", 0, errors.New("erp token endpoint returned empty access_token")
	}
	if tr.ExpiresIn <= 0 {
		return "", 0, errors.New("erp token endpoint returned invalid expires_in")
	}
	return tr.AccessToken, tr.ExpiresIn, nil
}

// TokenSource caches the access token until shortly before it expires. It is
// safe for concurrent use.
type TokenSource struct {
	client *Client
	now    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenSource(client *Client) *TokenSource {
	return &TokenSource{client: client, now: time.Now}
}

func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && !s.expiresAt.IsZero() && s.now().Before(s.expiresAt.Add(-30*time.Second)) {
		return s.token, nil
	}

	token, expiresInSeconds, err := s.client.GetAccessToken(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiresAt = s.now().Add(time.Duration(expiresInSeconds) * time.Second)
	return s.token, nil
}
