// ABOUTME: Constructs the production SSRF-safe HTTP client and resty clients for third-party APIs.
// ABOUTME: Uses doyensec/safeurl with redirect following disabled; resty rides on top of it.
package outbound

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds a single outbound request when the caller passes zero.
const DefaultTimeout = 30 * time.Second

// BuildSafeClient returns an SSRF-safe *http.Client for calls to the AI and
// CRM providers. Redirects are not followed; base URLs come from config.
func BuildSafeClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetCheckRedirect(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}).
		Build()
	return safeurl.Client(cfg).Client
}

// NewRestClient wraps hc in a resty client rooted at baseURL. Tests pass an
// httptest server's client; production passes BuildSafeClient.
func NewRestClient(hc *http.Client, baseURL string) *resty.Client {
	if hc == nil {
		hc = BuildSafeClient(0)
	}
	return resty.NewWithClient(hc).
		SetBaseURL(baseURL).
		SetRedirectPolicy(resty.NoRedirectPolicy()).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "leadpilot/1.0")
}
