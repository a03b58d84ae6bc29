package upstox

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"cvdflow/config"
	ratemetrics "cvdflow/internal/metrics/rate"
	"cvdflow/logger"
)

const maxErrorBody = 4 << 10

// StatusError is a non-2xx answer from the Upstox REST API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstox returned %d", e.Status)
	}
	return fmt.Sprintf("upstox returned %d: %s", e.Status, e.Body)
}

// Client talks to the Upstox REST endpoints and opens market data sessions.
type Client struct {
	cfg     config.UpstoxConfig
	http    *http.Client
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	tracker *ratemetrics.WSWeightTracker
	log     *logger.Log
}

// NewClient builds a client from the upstox config section. REST calls share
// one limiter so reconnect storms cannot hammer the authorize endpoint.
func NewClient(cfg config.UpstoxConfig) *Client {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsConfig

	rps := cfg.AuthRatePerSecond
	if rps <= 0 {
		rps = 1
	}

	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: headerTransport{
				agent: cfg.UserAgent,
				token: cfg.AccessToken,
				base:  base,
			},
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshake,
			TLSClientConfig:  tlsConfig,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		tracker: ratemetrics.NewWSWeightTracker(),
		log:     logger.GetLogger(),
	}
}

// Tracker exposes websocket usage counters for reporting.
func (c *Client) Tracker() *ratemetrics.WSWeightTracker {
	return c.tracker
}

// do runs req after waiting for the limiter and turns non-2xx answers into
// StatusError. The caller owns the returned body on success.
func (c *Client) do(req *http.Request, api, instrument string) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	ratemetrics.ReportFromResponse(c.log, api, instrument, resp.StatusCode, string(body))
	return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
}
