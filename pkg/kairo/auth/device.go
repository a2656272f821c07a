package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// DefaultPollInterval applies when the server does not send an interval.
	DefaultPollInterval = 5 * time.Second
	// SlowDownIncrement is added to the poll interval on every slow_down.
	SlowDownIncrement = 5 * time.Second
	DefaultScope      = "openid profile email"

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	deviceCodePath  = "/device/code"
	deviceTokenPath = "/device/token"
)

// FormPoster sends form-encoded POST requests relative to the auth server.
type FormPoster interface {
	PostForm(ctx context.Context, endpoint string, form url.Values) (*resty.Response, error)
}

// DeviceAuthorization is the server's answer to a device code request. It is
// only ever held in memory; DeviceCode must not be shown, logged or persisted.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval,omitempty"`
}

// PollInterval is the initial wait between token polls.
func (d *DeviceAuthorization) PollInterval() time.Duration {
	if d.Interval <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(d.Interval) * time.Second
}

// Lifetime is how long the device code stays valid, zero if unknown.
func (d *DeviceAuthorization) Lifetime() time.Duration {
	if d.ExpiresIn <= 0 {
		return 0
	}
	return time.Duration(d.ExpiresIn) * time.Second
}

// BrowserURL prefers the pre-filled verification URL.
func (d *DeviceAuthorization) BrowserURL() string {
	if d.VerificationURIComplete != "" {
		return d.VerificationURIComplete
	}
	return d.VerificationURI
}

func (d DeviceAuthorization) String() string {
	return fmt.Sprintf("DeviceAuthorization{UserCode: %s, VerificationURI: %s, ExpiresIn: %d, Interval: %d, DeviceCode: [redacted]}",
		d.UserCode, d.VerificationURI, d.ExpiresIn, d.Interval)
}

type PollStatus int

const (
	PollAuthorized PollStatus = iota
	PollPending
	PollSlowDown
	PollDenied
	PollExpired
	PollError
	PollNetworkError
)

func (s PollStatus) String() string {
	switch s {
	case PollAuthorized:
		return "authorized"
	case PollPending:
		return "authorization_pending"
	case PollSlowDown:
		return "slow_down"
	case PollDenied:
		return "access_denied"
	case PollExpired:
		return "expired_token"
	case PollNetworkError:
		return "network_error"
	default:
		return "error"
	}
}

// PollResult is the outcome of a single token request.
type PollResult struct {
	Status      PollStatus
	Token       *oauth2.Token
	Code        string
	Description string
	Err         error
}

func (r PollResult) message() string {
	switch {
	case r.Description != "" && r.Code != "":
		return r.Code + ": " + r.Description
	case r.Description != "":
		return r.Description
	case r.Code != "":
		return r.Code
	}
	return "unexpected token response"
}

type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
	oauthError
}

// DeviceClient speaks the device authorization and token endpoints. It holds
// no flow state; polling cadence belongs to Poller.
type DeviceClient struct {
	transport FormPoster
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewDeviceClient(transport FormPoster, log *zap.SugaredLogger) *DeviceClient {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DeviceClient{transport: transport, log: log, now: time.Now}
}

// WithClock sets the clock used to turn expires_in into an absolute expiry.
func (c *DeviceClient) WithClock(now func() time.Time) *DeviceClient {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *DeviceClient) RequestDeviceCode(ctx context.Context, clientID, scope string) (*DeviceAuthorization, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrConfiguration)
	}
	values := url.Values{}
	values.Set("client_id", clientID)
	if scope != "" {
		values.Set("scope", scope)
	}
	resp, err := c.transport.PostForm(ctx, deviceCodePath, values)
	if err != nil {
		return nil, fmt.Errorf("%w: device authorization request failed: %w", ErrNetwork, err)
	}
	c.log.Debugw("Device authorization response", "status", resp.StatusCode())

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, describeResponse(resp))
	case resp.StatusCode() == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrBadRequest, describeResponse(resp))
	case !resp.IsSuccess():
		return nil, fmt.Errorf("%w: %s", ErrUnknown, describeResponse(resp))
	}

	var payload DeviceAuthorization
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("%w: failed to decode device authorization: %w", ErrUnknown, err)
	}
	if payload.DeviceCode == "" || payload.UserCode == "" {
		return nil, fmt.Errorf("%w: response is missing device_code or user_code", ErrUnknown)
	}
	return &payload, nil
}

// PollToken performs exactly one token request for deviceCode.
func (c *DeviceClient) PollToken(ctx context.Context, deviceCode, clientID string) PollResult {
	values := url.Values{}
	values.Set("grant_type", deviceGrantType)
	values.Set("device_code", deviceCode)
	values.Set("client_id", clientID)
	resp, err := c.transport.PostForm(ctx, deviceTokenPath, values)
	if err != nil {
		return PollResult{Status: PollNetworkError, Err: err}
	}

	var payload tokenResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return PollResult{Status: PollError, Description: fmt.Sprintf("undecodable token response (%s)", resp.Status())}
	}
	if payload.Error != "" {
		return classifyTokenError(payload.oauthError)
	}
	if !resp.IsSuccess() {
		return PollResult{Status: PollError, Description: describeResponse(resp)}
	}
	if payload.AccessToken == "" {
		return PollResult{Status: PollError, Description: "token response is missing access_token"}
	}

	token := &oauth2.Token{
		AccessToken: payload.AccessToken,
		TokenType:   payload.TokenType,
	}
	if payload.ExpiresIn > 0 {
		token.Expiry = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	if payload.Scope != "" {
		token = token.WithExtra(map[string]interface{}{"scope": payload.Scope})
	}
	return PollResult{Status: PollAuthorized, Token: token}
}

func classifyTokenError(e oauthError) PollResult {
	res := PollResult{Code: e.Error, Description: e.ErrorDescription}
	switch e.Error {
	case "authorization_pending":
		res.Status = PollPending
	case "slow_down":
		res.Status = PollSlowDown
	case "access_denied":
		res.Status = PollDenied
	case "expired_token":
		res.Status = PollExpired
	default:
		res.Status = PollError
	}
	return res
}

func describeResponse(resp *resty.Response) string {
	var payload oauthError
	if err := json.Unmarshal(resp.Body(), &payload); err == nil {
		switch {
		case payload.ErrorDescription != "":
			return payload.ErrorDescription
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		}
	}
	if status := resp.Status(); status != "" {
		return status
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode())
}
