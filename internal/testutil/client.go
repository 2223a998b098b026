package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"testing"

	"github.com/anac-tg/incident-desk/internal/pkg/httputil"
)

// Client drives the API over HTTP the way a browser session would: the
// session cookies live in a jar and the CSRF cookie is echoed as a header.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// Bearer, when set, is sent in the Authorization header.
	Bearer string
	csrf   string

	validator *OpenAPIValidator
	t         *testing.T
}

func newJarClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar}
}

// NewClient returns a client that does not check responses.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: newJarClient()}
}

// NewClientWithValidator returns a client that checks every response
// against validator once SetT has been called.
func NewClientWithValidator(baseURL string, validator *OpenAPIValidator) *Client {
	c := NewClient(baseURL)
	c.validator = validator
	return c
}

// SetT binds the client to the running test for contract failures.
func (c *Client) SetT(t *testing.T) {
	c.t = t
}

// WithoutValidation returns a copy sharing the session that skips the
// contract check, for requests expected to be rejected.
func (c *Client) WithoutValidation() *Client {
	clone := *c
	clone.validator = nil
	return &clone
}

// LoginAs opens a session. The CSRF token is picked up by send.
func (c *Client) LoginAs(t *testing.T, email, password string) {
	t.Helper()
	c.t = t

	resp, err := c.POST("/api/v1/auth/login", map[string]string{"email": email, "password": password})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status=%d body=%s", email, resp.StatusCode, ReadBody(t, resp))
	}
	_ = resp.Body.Close()
}

// Register creates an account and returns its id.
func (c *Client) Register(t *testing.T, email, password, firstName, lastName string) string {
	t.Helper()

	resp, err := c.POST("/api/v1/auth/register", map[string]string{
		"email":      email,
		"password":   password,
		"first_name": firstName,
		"last_name":  lastName,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status=%d body=%s", email, resp.StatusCode, ReadBody(t, resp))
	}

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	DecodeJSON(t, resp, &created)
	return created.Data.ID
}

func (c *Client) GET(path string) (*http.Response, error) {
	return c.sendJSON(http.MethodGet, path, nil)
}

func (c *Client) POST(path string, body any) (*http.Response, error) {
	return c.sendJSON(http.MethodPost, path, body)
}

func (c *Client) PUT(path string, body any) (*http.Response, error) {
	return c.sendJSON(http.MethodPut, path, body)
}

func (c *Client) PATCH(path string, body any) (*http.Response, error) {
	return c.sendJSON(http.MethodPatch, path, body)
}

func (c *Client) DELETE(path string) (*http.Response, error) {
	return c.sendJSON(http.MethodDelete, path, nil)
}

// PostMultipart sends fields as a multipart form. A non-nil photo is
// attached as the "photo" file part.
func (c *Client) PostMultipart(path string, fields map[string]string, photoName string, photo []byte) (*http.Response, error) {
	var payload bytes.Buffer
	form := multipart.NewWriter(&payload)
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
	}
	if photo != nil {
		part, err := form.CreateFormFile("photo", photoName)
		if err != nil {
			return nil, fmt.Errorf("photo part: %w", err)
		}
		if _, err := part.Write(photo); err != nil {
			return nil, fmt.Errorf("photo part: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}
	return c.send(http.MethodPost, path, form.FormDataContentType(), payload.Bytes())
}

func (c *Client) sendJSON(method, path string, body any) (*http.Response, error) {
	if body == nil {
		return c.send(method, path, "application/json", nil)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
	}
	return c.send(method, path, "application/json", payload)
}

func (c *Client) send(method, path, contentType string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	if c.csrf != "" && method != http.MethodGet {
		req.Header.Set(httputil.CSRFTokenHeader, c.csrf)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == httputil.CSRFTokenCookie {
			c.csrf = cookie.Value
		}
	}

	if c.validator != nil && c.t != nil {
		// The sent request's body is drained; hand the validator a fresh one.
		req.Body = io.NopCloser(bytes.NewReader(payload))
		c.validator.ValidateResponse(c.t, req, resp)
	}
	return resp, nil
}

// DecodeJSON decodes and closes the response body.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ReadBody returns and closes the response body.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
