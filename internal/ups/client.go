// Package ups provides a client for the identity-resolution (UPS) endpoint
// that exchanges hashed identifiers for a ConnectID.
package ups

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/publicsuffix"
)

// DefaultEndpoint is the production identity-resolution host.
const DefaultEndpoint = "https://ups.analytics.yahoo.com"

const (
	protocolVersion = "1"
	maxBodySize     = 1 << 20
)

// Response is the endpoint's answer. Either field may be missing.
type Response struct {
	ConnectID string  `json:"connectId"`
	TTL       float64 `json:"ttl"` // hours
}

// UnmarshalJSON accepts ttl as a number or a numeric string. A ttl that is
// neither is dropped so the connectId still comes through.
func (r *Response) UnmarshalJSON(b []byte) error {
	var wire struct {
		ConnectID string          `json:"connectId"`
		TTL       json.RawMessage `json:"ttl"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	*r = Response{ConnectID: wire.ConnectID, TTL: parseTTL(wire.TTL)}
	return nil
}

func parseTTL(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Request holds the parameters of one sync call. Empty strings and nil
// pointers are left out of the query.
type Request struct {
	HashedEmail string
	HashedPUID  string
	GPP         string
	GPPSID      string
	GDPR        *bool
	GDPRConsent string
	USPrivacy   string
	FirstParty  *bool
	URL         string
}

// Values encodes r as query parameters. v is always set.
func (r Request) Values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}

	set("he", r.HashedEmail)
	set("puid", r.HashedPUID)
	set("gpp", r.GPP)
	set("gpp_sid", r.GPPSID)
	if r.GDPR != nil {
		v.Set("gdpr", strconv.FormatBool(*r.GDPR))
	}
	set("gdpr_consent", r.GDPRConsent)
	set("us_privacy", r.USPrivacy)
	if r.FirstParty != nil {
		v.Set("1p", strconv.FormatBool(*r.FirstParty))
	}
	v.Set("v", protocolVersion)
	set("url", r.URL)
	return v
}

// Config holds client settings. Zero values select defaults.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client talks to the UPS endpoint. Cookies set by the endpoint are kept
// and sent back on later calls.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a UPS client.
func NewClient(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	// cookiejar.New always returns a nil error
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	return &Client{
		baseURL: endpoint,
		http: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
	}
}

// Fetch requests the ConnectID for pixelID with the given query parameters.
func (c *Client) Fetch(ctx context.Context, pixelID int, params url.Values) (Response, error) {
	u := c.baseURL + "/ups/" + strconv.Itoa(pixelID) + "/fed"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Response{}, fmt.Errorf("fetch: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("fetch: execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Response{}, fmt.Errorf("fetch: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return Response{}, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, fmt.Errorf("fetch: parse response: %w", err)
	}

	return out, nil
}
