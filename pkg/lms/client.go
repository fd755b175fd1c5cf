package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/learnlyhq/learnly-backend/pkg/config"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
)

const (
	enrollMethodPath            = "api/method/lms.api.enroll"
	defaultTimeout              = 5 * time.Second
	requestBodyReadLimit  int64 = 1024
)

var (
	errBaseURLRequired     = errors.New("lms base url is required")
	errCredentialsRequired = errors.New("lms api key and secret are required")
)

// Client wraps the Frappe LMS HTTP API used for enrollment sync.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured LMS base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the LMS client from the configured endpoint and credentials.
func NewClient(cfg config.LMSConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	apiSecret := strings.TrimSpace(cfg.APISecret)
	if apiKey == "" || apiSecret == "" {
		return nil, errCredentialsRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}

	return client, nil
}

// EnrollRequest describes the payload sent to the LMS enrollment endpoint.
type EnrollRequest struct {
	UserEmail    string `json:"user_email"`
	CourseID     string `json:"course_id"`
	PaidStatus   bool   `json:"paid_status"`
	PaymentID    string `json:"payment_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// EnrollResult holds the mapped data returned by the LMS.
type EnrollResult struct {
	EnrollmentID string
}

// Enroll registers a paid enrollment with the LMS. A non-success response or
// timeout is returned as a dependency error so callers can queue a retry.
func (c *Client) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "lms client not configured")
	}
	if strings.TrimSpace(req.UserEmail) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user email is required")
	}
	if strings.TrimSpace(req.CourseID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "course id is required")
	}

	url := c.buildURL(enrollMethodPath)
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal enroll request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build enroll request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.apiSecret))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute enroll request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "enroll request failed")
	}

	var apiResp struct {
		Message struct {
			Success      bool   `json:"success"`
			EnrollmentID string `json:"enrollment_id"`
			Error        string `json:"error"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode enroll response")
	}

	if !apiResp.Message.Success {
		reason := strings.TrimSpace(apiResp.Message.Error)
		if reason == "" {
			reason = "lms rejected enrollment"
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New(reason), "enroll rejected")
	}

	return &EnrollResult{EnrollmentID: apiResp.Message.EnrollmentID}, nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
