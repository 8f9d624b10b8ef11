// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package nessus implements scanner.Backend against the Nessus REST API.
package nessus

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nessorch/orchestrator/internal/models"
	orcherrors "github.com/nessorch/orchestrator/internal/pkg/errors"
	"github.com/nessorch/orchestrator/internal/scanner"
)

// Config configures a single Nessus instance connection.
type Config struct {
	BaseURL          string
	VerifyTLS        bool // Nessus instances commonly run on a self-signed cert; default is false
	AccessKey        string // API key auth, preferred over session login
	SecretKey        string
	Username         string // fallback session-cookie auth
	Password         string
	PolicyTemplateID map[string]string // scan type -> Nessus policy template UUID
	HTTPTimeout      time.Duration
}

// Client is a scanner.Backend implementation talking to one Nessus instance.
type Client struct {
	cfg    Config
	http   *http.Client
	mu     sync.Mutex
	cookie string // session token, set by Authenticate when using username/password
}

// New constructs a Client for one Nessus instance.
func New(cfg Config) *Client {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout, Transport: transport},
	}
}

var _ scanner.Backend = (*Client)(nil)

// Authenticate logs in with username/password when no API key pair is
// configured; API-key auth needs no session and is a no-op here.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.cfg.AccessKey != "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	resp, err := c.do(ctx, http.MethodPost, "/session", body, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return orcherrors.WrapUnavailable(err, "NESSUS_AUTH_DECODE", "decoding session response")
	}
	c.mu.Lock()
	c.cookie = out.Token
	c.mu.Unlock()
	return nil
}

// Create registers a new scan against the policy template for the request's
// scan type and returns the backend's scan identifier.
func (c *Client) Create(ctx context.Context, req scanner.LaunchRequest) (string, error) {
	templateUUID := c.cfg.PolicyTemplateID[string(req.ScanType)]
	if templateUUID == "" {
		return "", orcherrors.NewInvalidInput(fmt.Sprintf("no policy template configured for scan type %q", req.ScanType))
	}

	settings := map[string]interface{}{
		"name":        req.Name,
		"text_targets": joinTargets(req.Targets),
	}
	if req.Credentials != nil {
		// Credential material flows to the backend only, never logged or
		// returned; Fingerprint() intentionally omits Password.
		settings["username"] = req.Credentials.Username
		settings["password"] = req.Credentials.Password
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"uuid":     templateUUID,
		"settings": settings,
	})

	resp, err := c.do(ctx, http.MethodPost, "/scans", payload, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Scan struct {
			ID int `json:"id"`
		} `json:"scan"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", orcherrors.WrapUnavailable(err, "NESSUS_CREATE_DECODE", "decoding scan creation response")
	}
	return strconv.Itoa(out.Scan.ID), nil
}

// Launch starts a previously created scan. Nessus requires the anti-CSRF
// "X-Requested-With" marker header on mutating launch calls.
func (c *Client) Launch(ctx context.Context, externalID string) (*scanner.LaunchResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/scans/"+externalID+"/launch", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		ScanUUID string `json:"scan_uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, orcherrors.WrapUnavailable(err, "NESSUS_LAUNCH_DECODE", "decoding launch response")
	}

	version, _ := c.serverVersion(ctx)
	return &scanner.LaunchResult{ExternalScanID: externalID, Version: version}, nil
}

// Status polls the scan's current host/status summary.
func (c *Client) Status(ctx context.Context, externalID string) (*scanner.StatusResult, error) {
	resp, err := c.do(ctx, http.MethodGet, "/scans/"+externalID, nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Info struct {
			Status string `json:"status"`
		} `json:"info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, orcherrors.WrapUnavailable(err, "NESSUS_STATUS_DECODE", "decoding status response")
	}
	return &scanner.StatusResult{State: mapState(out.Info.Status)}, nil
}

// Export requests a .nessus report and polls the export job until ready,
// then downloads the raw bytes.
func (c *Client) Export(ctx context.Context, externalID string) ([]byte, error) {
	payload, _ := json.Marshal(map[string]string{"format": "nessus"})
	resp, err := c.do(ctx, http.MethodPost, "/scans/"+externalID+"/export", payload, true)
	if err != nil {
		return nil, err
	}
	var exportOut struct {
		File int `json:"file"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&exportOut)
	resp.Body.Close()
	if decodeErr != nil {
		return nil, orcherrors.WrapUnavailable(decodeErr, "NESSUS_EXPORT_DECODE", "decoding export response")
	}
	fileID := strconv.Itoa(exportOut.File)

	for {
		ready, err := c.exportReady(ctx, externalID, fileID)
		if err != nil {
			return nil, err
		}
		if ready {
			break
		}
		select {
		case <-ctx.Done():
			return nil, orcherrors.WrapUnavailable(ctx.Err(), "NESSUS_EXPORT_TIMEOUT", "export poll canceled")
		case <-time.After(2 * time.Second):
		}
	}

	dl, err := c.do(ctx, http.MethodGet, "/scans/"+externalID+"/export/"+fileID+"/download", nil, true)
	if err != nil {
		return nil, err
	}
	defer dl.Body.Close()
	data, err := io.ReadAll(dl.Body)
	if err != nil {
		return nil, orcherrors.WrapUnavailable(err, "NESSUS_DOWNLOAD_READ", "reading export download")
	}
	return data, nil
}

func (c *Client) exportReady(ctx context.Context, externalID, fileID string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/scans/"+externalID+"/export/"+fileID+"/status", nil, true)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, orcherrors.WrapUnavailable(err, "NESSUS_EXPORT_STATUS_DECODE", "decoding export status")
	}
	return out.Status == "ready", nil
}

// Stop requests cancellation of a running scan. Errors carry do()'s
// classification: transport failures, 5xx and 429 responses are
// unavailable, and any other 4xx response (409 included) is an
// invalid-input error.
func (c *Client) Stop(ctx context.Context, externalID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/scans/"+externalID+"/stop", nil, true)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Delete removes the scan definition from the Nessus instance.
func (c *Client) Delete(ctx context.Context, externalID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/scans/"+externalID, nil, true)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Close releases the HTTP session. Nessus has no persistent connection to
// tear down explicitly; idle connections are reclaimed by the transport.
func (c *Client) Close(ctx context.Context) error {
	c.http.CloseIdleConnections()
	return nil
}

// serverVersion is best-effort: a failure to fetch /server/properties must
// never fail the launch that triggered it.
func (c *Client) serverVersion(ctx context.Context) (*models.ScannerVersion, error) {
	resp, err := c.do(ctx, http.MethodGet, "/server/properties", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		ServerVersion string `json:"server_version"`
		FeedID        string `json:"feed_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil
	}
	return &models.ScannerVersion{
		ServerVersion: out.ServerVersion,
		FeedVersion:   out.FeedID,
		ObservedAt:    time.Now(),
	}, nil
}

func mapState(nessusStatus string) scanner.ScanState {
	switch nessusStatus {
	case "completed":
		return scanner.StateCompleted
	case "canceled", "aborted":
		return scanner.StateStopped
	case "import error", "stopped":
		return scanner.StateFailed
	default:
		return scanner.StateRunning
	}
}

func joinTargets(targets []string) string {
	var buf bytes.Buffer
	for i, t := range targets {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(t)
	}
	return buf.String()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, authed bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, orcherrors.WrapInvalidInput(err, "building nessus request")
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		if c.cfg.AccessKey != "" {
			req.Header.Set("X-ApiKeys", "accessKey="+c.cfg.AccessKey+"; secretKey="+c.cfg.SecretKey)
		} else {
			c.mu.Lock()
			cookie := c.cookie
			c.mu.Unlock()
			req.Header.Set("X-Cookie", "token="+cookie)
		}
	}
	if method == http.MethodPost || method == http.MethodDelete {
		req.Header.Set("X-Requested-With", "orchestrator")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, orcherrors.WrapUnavailable(err, "NESSUS_TRANSPORT", "nessus request failed")
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, orcherrors.New(orcherrors.KindUnavailable, "NESSUS_SERVER_ERROR", fmt.Sprintf("nessus returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, orcherrors.NewInvalidInput(fmt.Sprintf("nessus returned status %d: %s", resp.StatusCode, string(b)))
	}
	return resp, nil
}
