package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kairo-dev/kairo/pkg/version"
)

const (
	// DefaultBasePath is where better-auth mounts its endpoints.
	DefaultBasePath = "/api/auth"
	defaultTimeout  = 30 * time.Second
)

// Client is constructed once per process and shared by the device flow and the
// session lookup.
type Client struct {
	rest      *resty.Client
	baseURL   *url.URL
	basePath  string
	userAgent string
	timeout   time.Duration
	tlsConfig *tls.Config
	log       *zap.SugaredLogger
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		basePath:  DefaultBasePath,
		userAgent: "kairo/" + version.Version,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.baseURL == nil {
		return nil, errors.New("server is required")
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}

	c.rest = resty.New().
		SetBaseURL(strings.TrimRight(c.baseURL.String(), "/")).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json").
		SetLogger(c.log)
	if c.userAgent != "" {
		c.rest.SetHeader("User-Agent", c.userAgent)
	}
	if c.tlsConfig != nil {
		c.rest.SetTLSClientConfig(c.tlsConfig)
	}
	return c, nil
}

func WithServer(server string) Option {
	return func(c *Client) error {
		parsed, err := ParseServerURL(server)
		if err != nil {
			return err
		}
		c.baseURL = parsed
		return nil
	}
}

func WithBasePath(basePath string) Option {
	return func(c *Client) error {
		if basePath != "" {
			c.basePath = basePath
		}
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid timeout: %s", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) error {
		c.log = log
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := loadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		c.tlsConfig = tlsConfig
		return nil
	}
}

// ParseServerURL accepts absolute http(s) URLs with a host.
func ParseServerURL(server string) (*url.URL, error) {
	if strings.TrimSpace(server) == "" {
		return nil, errors.New("server is required")
	}
	parsed, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid server: scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid server: missing host")
	}
	return parsed, nil
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure}
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// Server returns the configured server URL.
func (c *Client) Server() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(p string) string {
	return path.Join("/", c.basePath, p)
}

// PostForm posts form values to an endpoint below the base path. Non-2xx
// responses are returned without an error; only transport failures err.
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values) (*resty.Response, error) {
	return c.rest.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post(c.endpoint(endpoint))
}

// Get issues an authenticated GET below the base path.
func (c *Client) Get(ctx context.Context, endpoint, token string) (*resty.Response, error) {
	req := c.rest.R().SetContext(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}
	return req.Get(c.endpoint(endpoint))
}

func decodeError(resp *resty.Response) error {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	body := resp.Body()
	if len(body) > 0 {
		_ = json.Unmarshal(body, &apiErr)
	}
	msg := strings.TrimSpace(apiErr.Message)
	if msg == "" {
		msg = strings.TrimSpace(apiErr.Error)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = resp.Status()
	}
	return &HTTPError{StatusCode: resp.StatusCode(), Message: msg}
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}
