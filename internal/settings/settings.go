// Package settings holds the operator-controlled settings kept in the store.
package settings

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/delivery"
	"github.com/hpungsan/spr/internal/errors"
)

// Store keys.
const (
	KeyRecording = "recording"
	KeyServerURL = "serverUrl"
	KeyAPIToken  = "apiToken"
	KeyAutoSync  = "autoSync"
	KeyDeviceID  = "deviceId"
)

// UnknownDevice is reported when no device id has been generated yet.
const UnknownDevice = "unknown"

// Keys lists every settings key.
func Keys() []string {
	return []string{KeyRecording, KeyServerURL, KeyAPIToken, KeyAutoSync, KeyDeviceID}
}

// Settings is the current settings snapshot.
type Settings struct {
	Recording bool   `json:"recording"`
	ServerURL string `json:"serverUrl"`
	APIToken  string `json:"-"`
	AutoSync  bool   `json:"autoSync"`
	DeviceID  string `json:"deviceId"`
}

// Endpoint returns where deliveries go.
func (s *Settings) Endpoint() delivery.Endpoint {
	return delivery.Endpoint{BaseURL: s.ServerURL, Token: s.APIToken}
}

// SyncEnabled reports whether a sync cycle has anything to do.
func (s *Settings) SyncEnabled() bool {
	return s.AutoSync && s.ServerURL != ""
}

// Defaults returns the settings used for keys that were never written.
func Defaults() *Settings {
	return &Settings{Recording: true, AutoSync: true}
}

// Read loads settings through r, falling back to defaults for missing keys.
func Read(ctx context.Context, r db.Reader) (*Settings, error) {
	values, err := r.Get(ctx, Keys()...)
	if err != nil {
		return nil, err
	}

	s := Defaults()
	fields := []struct {
		key string
		out any
	}{
		{KeyRecording, &s.Recording},
		{KeyServerURL, &s.ServerURL},
		{KeyAPIToken, &s.APIToken},
		{KeyAutoSync, &s.AutoSync},
		{KeyDeviceID, &s.DeviceID},
	}
	for _, f := range fields {
		if _, err := db.Decode(values, f.key, f.out); err != nil {
			return nil, err
		}
	}
	s.ServerURL = strings.TrimRight(strings.TrimSpace(s.ServerURL), "/")
	if s.DeviceID == "" {
		s.DeviceID = UnknownDevice
	}
	return s, nil
}

// Update is a partial settings change. Nil fields are left unchanged.
type Update struct {
	Recording *bool   `json:"recording,omitempty"`
	ServerURL *string `json:"serverUrl,omitempty"`
	APIToken  *string `json:"apiToken,omitempty"`
	AutoSync  *bool   `json:"autoSync,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Recording == nil && u.ServerURL == nil && u.APIToken == nil && u.AutoSync == nil
}

// Patch validates the update and returns the store write.
// A blank server URL is ignored; a blank token clears the token.
func (u Update) Patch() (db.Patch, error) {
	p := db.Patch{}
	if u.Recording != nil {
		p[KeyRecording] = *u.Recording
	}
	if u.AutoSync != nil {
		p[KeyAutoSync] = *u.AutoSync
	}
	if u.ServerURL != nil {
		raw := strings.TrimRight(strings.TrimSpace(*u.ServerURL), "/")
		if raw != "" {
			if err := validateServerURL(raw); err != nil {
				return nil, err
			}
			p[KeyServerURL] = raw
		}
	}
	if u.APIToken != nil {
		p[KeyAPIToken] = strings.TrimSpace(*u.APIToken)
	}
	return p, nil
}

// Redacted returns the update as log attributes, with the token masked.
func (u Update) Redacted() map[string]any {
	out := map[string]any{}
	if u.Recording != nil {
		out[KeyRecording] = *u.Recording
	}
	if u.AutoSync != nil {
		out[KeyAutoSync] = *u.AutoSync
	}
	if u.ServerURL != nil {
		out[KeyServerURL] = strings.TrimSpace(*u.ServerURL)
	}
	if u.APIToken != nil {
		out["apiTokenSet"] = strings.TrimSpace(*u.APIToken) != ""
	}
	return out
}

func validateServerURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.NewInvalidRequest("invalid server url: " + err.Error())
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.NewInvalidRequest("server url must use http or https")
	}
	if parsed.Host == "" {
		return errors.NewInvalidRequest("server url must include a host")
	}
	return nil
}

// Manager reads and writes settings in a store.
type Manager struct {
	store db.Store
}

// NewManager returns a Manager over store.
func NewManager(store db.Store) *Manager {
	return &Manager{store: store}
}

// Load returns the current settings.
func (m *Manager) Load(ctx context.Context) (*Settings, error) {
	return Read(ctx, m.store)
}

// Apply writes u and returns the resulting settings.
func (m *Manager) Apply(ctx context.Context, u Update) (*Settings, error) {
	patch, err := u.Patch()
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, patch); err != nil {
		return nil, err
	}
	return m.Load(ctx)
}

// InitDefaults writes defaults for settings that were never set and generates
// the device id once. It reports whether a new device id was generated.
func (m *Manager) InitDefaults(ctx context.Context) (deviceID string, generated bool, err error) {
	err = m.store.Update(ctx, func(r db.Reader) (db.Patch, error) {
		values, err := r.Get(ctx, Keys()...)
		if err != nil {
			return nil, err
		}
		def := Defaults()
		p := db.Patch{}
		defaults := map[string]any{
			KeyRecording: def.Recording,
			KeyServerURL: def.ServerURL,
			KeyAPIToken:  def.APIToken,
			KeyAutoSync:  def.AutoSync,
		}
		for k, v := range defaults {
			if _, ok := values[k]; !ok {
				p[k] = v
			}
		}

		if _, err := db.Decode(values, KeyDeviceID, &deviceID); err != nil {
			return nil, err
		}
		if deviceID == "" {
			deviceID = uuid.NewString()
			generated = true
			p[KeyDeviceID] = deviceID
		}
		return p, nil
	})
	if err != nil {
		return "", false, err
	}
	return deviceID, generated, nil
}
