package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Polling cadence for WaitJob.
const (
	DefaultPollInterval = time.Second
	DefaultWaitTimeout  = 12 * time.Minute
)

// ErrWaitTimeout is returned by WaitJob when the job did not finish in
// time. The job keeps running on the server.
var ErrWaitTimeout = errors.New("timed out waiting for job")

// Client provides HTTP client functionality to communicate with the hostpanel API
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 30 * time.Second,
	}
}

// New creates a new hostpanel API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the server is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	var z Zone
	if err := c.get(ctx, "/zone", &z); err != nil {
		c.logger.Debug("Server unreachable", "error", err)
		return false
	}
	return true
}

// CreateHost submits a create. Unless req.Sync is set the result is
// pending and carries the job id to poll.
func (c *Client) CreateHost(ctx context.Context, req CreateRequest) (ActionResult, error) {
	c.logger.Debug("Creating host", "name", req.Name, "preset", req.Preset, "sync", req.Sync)
	var res ActionResult
	err := c.do(ctx, http.MethodPost, "/hosts", req, &res)
	return res, err
}

// PollJob returns the job state and the log bytes written since offset.
func (c *Client) PollJob(ctx context.Context, jobID string, offset int64) (JobStatus, error) {
	var st JobStatus
	path := "/jobs/" + url.PathEscape(jobID) + "?offset=" + strconv.FormatInt(offset, 10)
	err := c.get(ctx, path, &st)
	return st, err
}

// WaitOptions tune WaitJob. Zero values select the defaults.
type WaitOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// OnChunk receives every non-empty log chunk in order.
	OnChunk func(string)
}

// WaitJob polls jobID until it is done, threading the offset so each log
// byte is delivered once.
func (c *Client) WaitJob(ctx context.Context, jobID string, opts WaitOptions) (JobStatus, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var offset int64
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.PollJob(ctx, jobID, offset)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return st, ErrWaitTimeout
			}
			return st, err
		}
		if st.Chunk != "" && opts.OnChunk != nil {
			opts.OnChunk(st.Chunk)
		}
		offset = st.Offset
		if st.Done() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return st, ErrWaitTimeout
			}
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Jobs lists background jobs, newest first.
func (c *Client) Jobs(ctx context.Context) ([]Job, error) {
	var out []Job
	err := c.get(ctx, "/jobs", &out)
	return out, err
}

// Hosts lists known hosts.
func (c *Client) Hosts(ctx context.Context) ([]Host, error) {
	var out []Host
	err := c.get(ctx, "/hosts", &out)
	return out, err
}

// DeleteCheck asks whether name may be deleted.
func (c *Client) DeleteCheck(ctx context.Context, name string) (DeleteDecision, error) {
	var d DeleteDecision
	err := c.get(ctx, "/hosts/"+url.PathEscape(name)+"/delete-check", &d)
	return d, err
}

// DeleteHost deletes name.
func (c *Client) DeleteHost(ctx context.Context, name string) (ActionResult, error) {
	c.logger.Debug("Deleting host", "name", name)
	var res ActionResult
	err := c.do(ctx, http.MethodDelete, "/hosts/"+url.PathEscape(name), nil, &res)
	return res, err
}

// Lifecycle runs start, stop or restart for name.
func (c *Client) Lifecycle(ctx context.Context, action, name string) (ActionResult, error) {
	var res ActionResult
	err := c.do(ctx, http.MethodPost, "/hosts/"+url.PathEscape(name)+"/"+url.PathEscape(action), nil, &res)
	return res, err
}

// Audit returns up to limit recent audit records, oldest first.
func (c *Client) Audit(ctx context.Context, limit int) ([]AuditRecord, error) {
	var out []AuditRecord
	path := "/audit"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.get(ctx, path, &out)
	return out, err
}

// Zone returns the active domain zone.
func (c *Client) Zone(ctx context.Context) (Zone, error) {
	var z Zone
	err := c.get(ctx, "/zone", &z)
	return z, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do performs a request and decodes a 2xx JSON body into out. Other
// statuses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "method", method, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "error_kind", apiErr.ErrorKind, "message", apiErr.Message)
	return apiErr
}
