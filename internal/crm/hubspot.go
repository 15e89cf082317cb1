// ABOUTME: HubSpot CRM client: creates contacts with the server-held private-app token.
// ABOUTME: A 409 from HubSpot surfaces as ErrContactExists carrying the existing contact id.
package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/scarson/leadpilot/internal/outbound"
)

// DefaultBaseURL is the public HubSpot API host.
const DefaultBaseURL = "https://api.hubapi.com"

var (
	// ErrContactExists is returned when a contact with the same email exists.
	ErrContactExists = errors.New("crm: contact already exists")
	// ErrNotConfigured is returned when no token was supplied.
	ErrNotConfigured = errors.New("crm: hubspot token not configured")
)

// Contact is the subset of HubSpot contact properties the app writes.
type Contact struct {
	Email     string `json:"email"`
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
	Company   string `json:"company,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// ContactResult is HubSpot's view of a created contact.
type ContactResult struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// ExistsError wraps ErrContactExists with the id HubSpot reported, if any.
type ExistsError struct {
	ExistingID string
}

func (e *ExistsError) Error() string {
	if e.ExistingID == "" {
		return ErrContactExists.Error()
	}
	return fmt.Sprintf("%s (id %s)", ErrContactExists, e.ExistingID)
}

func (e *ExistsError) Unwrap() error { return ErrContactExists }

// HubSpotConfig configures a HubSpotClient.
type HubSpotConfig struct {
	Token   string
	BaseURL string
	// HTTPClient defaults to outbound.BuildSafeClient(0).
	HTTPClient *http.Client
}

// HubSpotClient talks to the HubSpot CRM v3 objects API.
type HubSpotClient struct {
	rest  *resty.Client
	token string
}

// NewHubSpotClient builds a client; an empty BaseURL selects DefaultBaseURL.
func NewHubSpotClient(cfg HubSpotConfig) *HubSpotClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &HubSpotClient{
		rest:  outbound.NewRestClient(cfg.HTTPClient, strings.TrimRight(cfg.BaseURL, "/")),
		token: cfg.Token,
	}
}

type hubspotError struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

var existingIDRe = regexp.MustCompile(`Existing ID:\s*(\d+)`)

// CreateContact creates c in HubSpot.
func (h *HubSpotClient) CreateContact(ctx context.Context, c Contact) (*ContactResult, error) {
	if h.token == "" {
		return nil, ErrNotConfigured
	}

	var (
		out    ContactResult
		apiErr hubspotError
	)
	resp, err := h.rest.R().
		SetContext(ctx).
		SetAuthToken(h.token).
		SetBody(map[string]any{"properties": c}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/crm/v3/objects/contacts")
	if err != nil {
		return nil, fmt.Errorf("hubspot create contact: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusConflict:
		e := &ExistsError{}
		if m := existingIDRe.FindStringSubmatch(apiErr.Message); m != nil {
			e.ExistingID = m[1]
		}
		return nil, e
	case resp.IsError():
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return nil, fmt.Errorf("hubspot create contact: status %d: %s", resp.StatusCode(), msg)
	}
	return &out, nil
}
