package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider is the default Provider implementation: it POSTs a signed
// create-intent request to the configured provider endpoint, the same
// outbound-HTTP shape the teacher's OAuth provider client uses for
// exchanging codes with an external IdP.
type HTTPProvider struct {
	client   *http.Client
	endpoint string
	secret   string
}

// NewHTTPProvider builds a Provider over endpoint, signing every request
// body with secret.
func NewHTTPProvider(client *http.Client, endpoint, secret string) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{client: client, endpoint: endpoint, secret: secret}
}

type createIntentPayload struct {
	AmountCents int64             `json:"amountCents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

type createIntentResponse struct {
	ProviderRef  string `json:"providerRef"`
	ClientSecret string `json:"clientSecret"`
}

// CreateIntent implements Provider.
func (p *HTTPProvider) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (string, string, error) {
	body, err := json.Marshal(createIntentPayload{AmountCents: amountCents, Currency: currency, Metadata: metadata})
	if err != nil {
		return "", "", fmt.Errorf("encode create-intent payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("build create-intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Provider-Signature", SignPayload(p.secret, body))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("create-intent request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", fmt.Errorf("read create-intent response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("create-intent failed: status=%d", resp.StatusCode)
	}

	var decoded createIntentResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", "", fmt.Errorf("decode create-intent response: %w", err)
	}
	return decoded.ProviderRef, decoded.ClientSecret, nil
}

// SignPayload computes the HMAC-SHA256 signature a provider request or
// webhook body is signed/verified with.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the HMAC-SHA256 of body
// under secret, in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := SignPayload(secret, body)
	if len(expected) != len(signature) {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
