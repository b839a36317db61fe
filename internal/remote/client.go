// Package remote implements the HTTP client for the settings service.
// The wire contract: POST /settings (upsert batch), DELETE
// /settings/{category}/{key}, GET /settings (full snapshot), POST /devices,
// GET /devices. All requests carry a bearer token.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/syncbox/internal/store"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Body)
}

// Client talks to the remote settings service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL. A finite timeout is
// mandatory: a hung request must not hold the sync engine's busy flag
// forever.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SettingPayload is one entry in a settings push batch.
type SettingPayload struct {
	Category string          `json:"category"`
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	DataType string          `json:"data_type"`
}

type settingsPushBody struct {
	Settings []SettingPayload `json:"settings"`
}

// SettingsSnapshot is the response of GET /settings.
type SettingsSnapshot struct {
	UserID   string                    `json:"user_id"`
	Settings map[string]map[string]any `json:"settings"`
}

// WireDevice is the device record as it appears on the wire.
type WireDevice struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	LastActive int64  `json:"last_active"`
	Location   string `json:"location,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	IsCurrent  bool   `json:"is_current"`
}

type devicesBody struct {
	Devices []WireDevice `json:"devices"`
}

// PushSettings sends one batched upsert request for the given outbox items.
func (c *Client) PushSettings(ctx context.Context, token string, items []store.SyncItem) error {
	body := settingsPushBody{Settings: make([]SettingPayload, 0, len(items))}
	for _, it := range items {
		p, err := itemPayload(it)
		if err != nil {
			return err
		}
		body.Settings = append(body.Settings, p)
	}
	return c.do(ctx, token, http.MethodPost, "/settings", body, nil)
}

// DeleteSetting removes one remote setting.
func (c *Client) DeleteSetting(ctx context.Context, token, category, key string) error {
	path := "/settings/" + url.PathEscape(category) + "/" + url.PathEscape(key)
	return c.do(ctx, token, http.MethodDelete, path, nil, nil)
}

// PullSettings fetches the full remote snapshot for the authenticated user.
func (c *Client) PullSettings(ctx context.Context, token string) (map[string]map[string]any, error) {
	var snap SettingsSnapshot
	if err := c.do(ctx, token, http.MethodGet, "/settings", nil, &snap); err != nil {
		return nil, err
	}
	return snap.Settings, nil
}

// PushDevices uploads the local device registry.
func (c *Client) PushDevices(ctx context.Context, token string, devices []store.Device) error {
	body := devicesBody{Devices: make([]WireDevice, 0, len(devices))}
	for _, d := range devices {
		body.Devices = append(body.Devices, WireDevice{
			ID: d.ID, UserID: d.UserID, Name: d.Name, Type: d.Type,
			OS: d.OS, Browser: d.Browser, LastActive: d.LastActive,
			Location: d.Location, IPAddress: d.IPAddress, IsCurrent: d.IsCurrent,
		})
	}
	return c.do(ctx, token, http.MethodPost, "/devices", body, nil)
}

// PullDevices fetches the cross-device registry for the authenticated user.
func (c *Client) PullDevices(ctx context.Context, token string) ([]store.Device, error) {
	var body devicesBody
	if err := c.do(ctx, token, http.MethodGet, "/devices", nil, &body); err != nil {
		return nil, err
	}
	devices := make([]store.Device, 0, len(body.Devices))
	for _, w := range body.Devices {
		devices = append(devices, store.Device{
			ID: w.ID, UserID: w.UserID, Name: w.Name, Type: w.Type,
			OS: w.OS, Browser: w.Browser, LastActive: w.LastActive,
			Location: w.Location, IPAddress: w.IPAddress, IsCurrent: w.IsCurrent,
		})
	}
	return devices, nil
}

// itemPayload converts an outbox item to its wire form. Stored values are
// already JSON text for every data type except string, which is stored raw.
func itemPayload(it store.SyncItem) (SettingPayload, error) {
	p := SettingPayload{Category: it.Category, Key: it.Key, DataType: string(it.DataType)}
	if it.Value == nil {
		p.Value = json.RawMessage("null")
		return p, nil
	}
	if it.DataType == store.TypeString {
		quoted, err := json.Marshal(*it.Value)
		if err != nil {
			return p, fmt.Errorf("encode setting %s/%s: %w", it.Category, it.Key, err)
		}
		p.Value = quoted
		return p, nil
	}
	if !json.Valid([]byte(*it.Value)) {
		return p, fmt.Errorf("setting %s/%s: stored value is not valid JSON", it.Category, it.Key)
	}
	p.Value = json.RawMessage(*it.Value)
	return p, nil
}

func (c *Client) do(ctx context.Context, token, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
