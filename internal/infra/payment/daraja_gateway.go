package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"marketplace-payments/internal/domain"
	"marketplace-payments/internal/domain/ports/adapter"
)

// DarajaGateway implements PaymentGateway against the Safaricom Daraja
// STK push API using direct HTTP calls.
type DarajaGateway struct {
	consumerKey    string
	consumerSecret string
	shortcode      string
	passkey        string
	callbackURL    string
	baseURL        string
	client         *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
}

var _ adapter.PaymentGateway = (*DarajaGateway)(nil)

// NewDarajaGateway creates a Daraja STK push gateway. The sandbox flag
// selects the Safaricom sandbox host.
func NewDarajaGateway(consumerKey, consumerSecret, shortcode, passkey, callbackURL string, sandbox bool) *DarajaGateway {
	baseURL := "https://api.safaricom.co.ke"
	if sandbox {
		baseURL = "https://sandbox.safaricom.co.ke"
	}
	return &DarajaGateway{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		shortcode:      shortcode,
		passkey:        passkey,
		callbackURL:    callbackURL,
		baseURL:        baseURL,
		client:         &http.Client{Timeout: 30 * time.Second},
		now:            time.Now,
	}
}

func (g *DarajaGateway) Name() string { return "daraja" }

type darajaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type darajaPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// token returns a cached OAuth access token, refreshing it when within a
// minute of expiry.
func (g *DarajaGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accessToken != "" && g.now().Before(g.tokenExpiry.Add(-time.Minute)) {
		return g.accessToken, nil
	}

	url := g.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(g.consumerKey, g.consumerSecret)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch access token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("daraja token error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var tr darajaTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to unmarshal token response: %w, body: %s", err, string(body))
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("daraja token error: empty access_token, body: %s", string(body))
	}

	ttl := 3600 * time.Second
	if secs, err := time.ParseDuration(tr.ExpiresIn + "s"); err == nil && secs > 0 {
		ttl = secs
	}
	g.accessToken = tr.AccessToken
	g.tokenExpiry = g.now().Add(ttl)
	return g.accessToken, nil
}

// stkPassword builds the Lipa Na M-Pesa password for a push: the
// base64 of shortcode+passkey+timestamp, with timestamp in UTC
// yyyymmddHHMMSS.
func (g *DarajaGateway) stkPassword() (password, timestamp string) {
	timestamp = g.now().UTC().Format("20060102150405")
	password = base64.StdEncoding.EncodeToString([]byte(g.shortcode + g.passkey + timestamp))
	return password, timestamp
}

// Push implements PaymentGateway.Push. A non-zero ResponseCode or an
// HTTP-level rejection comes back as ErrPushRejected so callers can
// fail the transaction immediately.
func (g *DarajaGateway) Push(ctx context.Context, phone string, amount int64, accountRef, description string) (string, error) {
	token, err := g.token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPushRejected, err)
	}

	password, timestamp := g.stkPassword()
	requestData := map[string]interface{}{
		"BusinessShortCode": g.shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            g.shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       g.callbackURL,
		"AccountReference":  accountRef,
		"TransactionDesc":   description,
	}

	jsonData, err := json.Marshal(requestData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal push request: %w", err)
	}

	url := g.baseURL + "/mpesa/stkpush/v1/processrequest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send push request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read push response: %w", err)
	}

	var pr darajaPushResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return "", fmt.Errorf("failed to unmarshal push response: %w, body: %s", err, string(body))
	}

	if pr.ErrorCode != "" {
		return "", fmt.Errorf("%w: daraja error %s: %s", domain.ErrPushRejected, pr.ErrorCode, pr.ErrorMessage)
	}
	if pr.ResponseCode != "0" {
		return "", fmt.Errorf("%w: daraja response code %s: %s", domain.ErrPushRejected, pr.ResponseCode, pr.ResponseDescription)
	}
	if pr.CheckoutRequestID == "" {
		return "", fmt.Errorf("%w: daraja accepted push without CheckoutRequestID, body: %s", domain.ErrPushRejected, string(body))
	}

	return pr.CheckoutRequestID, nil
}
