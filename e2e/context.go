package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// TestContext holds state shared between scenario steps.
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	AccessToken string
	UserEmail   string

	ProviderClientID     string
	ProviderClientSecret string
	ConsumerClientID     string
	ConsumerClientSecret string

	NoticeID  string
	ConsentID string

	providerSD string
	consumerSD string
}

// NewTestContext creates a context pointed at E2E_BASE_URL.
func NewTestContext() *TestContext {
	return &TestContext{
		BaseURL:    os.Getenv("E2E_BASE_URL"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Post sends a JSON POST and captures the response.
func (tc *TestContext) Post(path string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tc.applyHeaders(req, headers)
	return tc.send(req)
}

// Get sends a GET and captures the response.
func (tc *TestContext) Get(path string, headers map[string]string) error {
	req, err := http.NewRequest(http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return err
	}
	tc.applyHeaders(req, headers)
	return tc.send(req)
}

func (tc *TestContext) applyHeaders(req *http.Request, headers map[string]string) {
	if tc.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.AccessToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func (tc *TestContext) send(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.LastResponse = resp
	tc.LastResponseBody = body
	return nil
}

// DecodeBody unmarshals the last response body.
func (tc *TestContext) DecodeBody(out any) error {
	if err := json.Unmarshal(tc.LastResponseBody, out); err != nil {
		return fmt.Errorf("decode response %q: %w", tc.LastResponseBody, err)
	}
	return nil
}

// ExpectStatus fails unless the last response carries the given code.
func (tc *TestContext) ExpectStatus(code int) error {
	if tc.LastResponse == nil {
		return fmt.Errorf("no response recorded")
	}
	if tc.LastResponse.StatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s",
			code, tc.LastResponse.StatusCode, tc.LastResponseBody)
	}
	return nil
}
