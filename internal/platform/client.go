// Package platform provides the HTTP client for the remote trading platform.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/tradefeed/tradefeed/internal/domain"
)

// Client is the surface of the remote trading platform consumed by the
// session engine and the API layer.
type Client interface {
	// GetOffers returns all offers (sent and received) updated at or after
	// since. A zero since returns everything the platform knows about.
	GetOffers(ctx context.Context, since time.Time) ([]*domain.OfferSnapshot, error)

	// GetOffer returns a single offer by id.
	GetOffer(ctx context.Context, offerID string) (*domain.OfferSnapshot, error)

	// SendOffer creates a new outgoing offer and returns its initial snapshot.
	SendOffer(ctx context.Context, req *NewOffer) (*domain.OfferSnapshot, error)

	// CancelOffer withdraws an offer we sent.
	CancelOffer(ctx context.Context, offerID string) error

	// AcceptOffer accepts an offer sent to us.
	AcceptOffer(ctx context.Context, offerID string) (*domain.OfferSnapshot, error)

	// DeclineOffer rejects an offer sent to us.
	DeclineOffer(ctx context.Context, offerID string) error
}

// NewOffer is the request body for creating an offer.
type NewOffer struct {
	Partner        string        `json:"partner"`
	Message        string        `json:"message,omitempty"`
	ItemsToGive    []domain.Item `json:"items_to_give"`
	ItemsToReceive []domain.Item `json:"items_to_receive"`
}

// HTTPClient implements Client against the platform's JSON API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient creates a platform client. baseURL is the API root without a
// trailing slash, e.g. "https://trade.example.com".
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// envelope is the platform's response wrapper. A non-nil Error on a 200
// response signals a remote-API failure code.
type envelope struct {
	Offers []*domain.OfferSnapshot `json:"offers,omitempty"`
	Offer  *domain.OfferSnapshot   `json:"offer,omitempty"`
	Error  *remoteError            `json:"error,omitempty"`
}

type remoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("platform error %d: %s", e.Code, e.Message)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform request %s %s: %v: %w", method, path, err, errdefs.ErrUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("platform %s %s: %w", method, path, errdefs.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("platform %s %s: %w", method, path, errdefs.ErrUnauthenticated)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("platform %s %s: status %d: %w", method, path, resp.StatusCode, errdefs.ErrUnavailable)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("platform %s %s: status %d: %w", method, path, resp.StatusCode, errdefs.ErrInvalidArgument)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode platform response: %w", err)
	}
	if env.Error != nil {
		// Remote-API failure code delivered in a 200 body.
		return nil, fmt.Errorf("platform %s %s: %v: %w", method, path, env.Error, errdefs.ErrUnknown)
	}
	return &env, nil
}

// GetOffers returns all offers updated at or after since.
func (c *HTTPClient) GetOffers(ctx context.Context, since time.Time) ([]*domain.OfferSnapshot, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	env, err := c.do(ctx, http.MethodGet, "/api/v1/offers", query, nil)
	if err != nil {
		return nil, err
	}
	return env.Offers, nil
}

// GetOffer returns a single offer by id.
func (c *HTTPClient) GetOffer(ctx context.Context, offerID string) (*domain.OfferSnapshot, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/v1/offers/"+offerID, nil, nil)
	if err != nil {
		return nil, err
	}
	if env.Offer == nil {
		return nil, fmt.Errorf("platform returned no offer for %s: %w", offerID, errdefs.ErrNotFound)
	}
	return env.Offer, nil
}

// SendOffer creates a new outgoing offer.
func (c *HTTPClient) SendOffer(ctx context.Context, req *NewOffer) (*domain.OfferSnapshot, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/v1/offers", nil, req)
	if err != nil {
		return nil, err
	}
	if env.Offer == nil {
		return nil, fmt.Errorf("platform returned no offer for send: %w", errdefs.ErrUnknown)
	}
	return env.Offer, nil
}

// CancelOffer withdraws an offer we sent.
func (c *HTTPClient) CancelOffer(ctx context.Context, offerID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/offers/"+offerID+"/cancel", nil, nil)
	return err
}

// AcceptOffer accepts an offer sent to us.
func (c *HTTPClient) AcceptOffer(ctx context.Context, offerID string) (*domain.OfferSnapshot, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/v1/offers/"+offerID+"/accept", nil, nil)
	if err != nil {
		return nil, err
	}
	if env.Offer == nil {
		return nil, fmt.Errorf("platform returned no offer for accept: %w", errdefs.ErrUnknown)
	}
	return env.Offer, nil
}

// DeclineOffer rejects an offer sent to us.
func (c *HTTPClient) DeclineOffer(ctx context.Context, offerID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/offers/"+offerID+"/decline", nil, nil)
	return err
}
