package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"qms/token-sync/internal/models"
	"qms/token-sync/internal/session"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrInvalidTokenID = errors.New("invalid token id")
	ErrInvalidStatus  = errors.New("invalid status")
)

// APIError is a non-2xx response from the queue server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Options struct {
	Timeout     time.Duration
	AccessToken string
	Transport   http.RoundTripper
}

type Client struct {
	base *url.URL
	http *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url scheme %q not supported", base.Scheme)
	}
	if base.Host == "" {
		return nil, errors.New("base url has no host")
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(loggingTransport{next: transport}),
		},
		token: opts.AccessToken,
	}, nil
}

func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for tokens and keeps the access token for
// later calls.
func (c *Client) Login(ctx context.Context, email, password string) (Tokens, error) {
	var tokens Tokens
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &tokens); err != nil {
		return Tokens{}, err
	}
	if tokens.AccessToken == "" {
		return Tokens{}, errors.New("login response has no access token")
	}
	c.SetAccessToken(tokens.AccessToken)
	return tokens, nil
}

func (c *Client) Me(ctx context.Context) (session.Profile, error) {
	var profile session.Profile
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &profile)
	return profile, err
}

// ListDoctorTokens returns the calling doctor's tokens.
func (c *Client) ListDoctorTokens(ctx context.Context) ([]models.Token, error) {
	return c.listTokens(ctx, "/patients/tokens")
}

func (c *Client) ListTodayTokens(ctx context.Context) ([]models.Token, error) {
	return c.listTokens(ctx, "/patients/tokens/today")
}

func (c *Client) ListPublicTodayTokens(ctx context.Context) ([]models.Token, error) {
	return c.listTokens(ctx, "/patients/tokens/public/today")
}

func (c *Client) listTokens(ctx context.Context, path string) ([]models.Token, error) {
	tokens := []models.Token{}
	if err := c.do(ctx, http.MethodGet, path, nil, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

type statusRequest struct {
	Status models.Status `json:"status"`
}

func (c *Client) UpdateTokenStatus(ctx context.Context, tokenID string, status models.Status) (models.Token, error) {
	if _, err := uuid.Parse(tokenID); err != nil {
		return models.Token{}, fmt.Errorf("%w: %q", ErrInvalidTokenID, tokenID)
	}
	if status != models.StatusInProgress && status != models.StatusCompleted {
		return models.Token{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	var token models.Token
	err := c.do(ctx, http.MethodPatch, "/patients/tokens/"+tokenID, statusRequest{Status: status}, &token)
	return token, err
}

func (c *Client) ListPatients(ctx context.Context) ([]models.Patient, error) {
	patients := []models.Patient{}
	if err := c.do(ctx, http.MethodGet, "/patients/", nil, &patients); err != nil {
		return nil, err
	}
	return patients, nil
}

func (c *Client) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	doctors := []models.Doctor{}
	if err := c.do(ctx, http.MethodGet, "/patients/doctors", nil, &doctors); err != nil {
		return nil, err
	}
	return doctors, nil
}

type NewPatient struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Age   int    `json:"age,omitempty"`
}

func (c *Client) CreatePatient(ctx context.Context, patient NewPatient) (models.Patient, error) {
	if strings.TrimSpace(patient.Name) == "" {
		return models.Patient{}, errors.New("patient name is required")
	}
	var created models.Patient
	err := c.do(ctx, http.MethodPost, "/patients/", patient, &created)
	return created, err
}

type tokenRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
}

// CreateToken issues a queue token for a patient with a doctor.
func (c *Client) CreateToken(ctx context.Context, patientID, doctorID string) (models.Token, error) {
	if patientID == "" || doctorID == "" {
		return models.Token{}, errors.New("patient_id and doctor_id are required")
	}
	var token models.Token
	err := c.do(ctx, http.MethodPost, "/patients/token", tokenRequest{PatientID: patientID, DoctorID: doctorID}, &token)
	return token, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	target := *c.base
	target.Path = strings.TrimSuffix(c.base.Path, "/") + path
	target.RawPath = ""

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// errorMessage pulls a human message out of FastAPI style error bodies.
func errorMessage(data []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	if len(body.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(body.Detail, &detail); err == nil {
			return detail
		}
		return string(body.Detail)
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
