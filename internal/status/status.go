// Package status aggregates queue counts and sync metadata for the operator
// surfaces and pushes the same snapshot to the server.
package status

import (
	"context"
	"time"

	"github.com/hpungsan/spr/internal/activity"
	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/delivery"
	"github.com/hpungsan/spr/internal/journal"
	"github.com/hpungsan/spr/internal/outbox"
	"github.com/hpungsan/spr/internal/settings"
)

// Store keys for cycle metadata.
const (
	KeyLastSyncAt     = "lastSyncAt"
	KeyLastSyncError  = "lastSyncError"
	KeyLastSyncResult = "lastSyncResult"
)

// PartialFailure is the last sync error recorded when some items of a cycle failed.
const PartialFailure = "Some items failed to sync"

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	Reason        string `json:"reason"`
	Attempted     int    `json:"attempted"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	Dead          int    `json:"dead"`
	LastRequestID string `json:"lastRequestId,omitempty"`
}

// Meta is the persisted outcome of the last cycle.
type Meta struct {
	LastSyncAt     *time.Time   `json:"lastSyncAt"`
	LastSyncError  *string      `json:"lastSyncError"`
	LastSyncResult *CycleResult `json:"lastSyncResult"`
}

// LoadMeta reads cycle metadata through r.
func LoadMeta(ctx context.Context, r db.Reader) (Meta, error) {
	var m Meta
	values, err := r.Get(ctx, KeyLastSyncAt, KeyLastSyncError, KeyLastSyncResult)
	if err != nil {
		return m, err
	}
	if _, err := db.Decode(values, KeyLastSyncAt, &m.LastSyncAt); err != nil {
		return m, err
	}
	if _, err := db.Decode(values, KeyLastSyncError, &m.LastSyncError); err != nil {
		return m, err
	}
	if _, err := db.Decode(values, KeyLastSyncResult, &m.LastSyncResult); err != nil {
		return m, err
	}
	return m, nil
}

// SummaryPatch returns the write that records a finished cycle at.
func SummaryPatch(res CycleResult, at time.Time) db.Patch {
	p := db.Patch{
		KeyLastSyncAt:     at.UTC(),
		KeyLastSyncResult: res,
		KeyLastSyncError:  nil,
	}
	if res.Failed > 0 || res.Dead > 0 {
		p[KeyLastSyncError] = PartialFailure
	}
	return p
}

// Snapshot is the status shown to the operator and pushed to the server.
type Snapshot struct {
	Recording   bool   `json:"recording"`
	ServerURL   string `json:"serverUrl"`
	APITokenSet bool   `json:"apiTokenSet"`
	AutoSync    bool   `json:"autoSync"`
	DeviceID    string `json:"deviceId"`

	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Sending int `json:"sending"`
	Total   int `json:"total"`

	LastSyncAt     *time.Time      `json:"lastSyncAt"`
	LastSyncError  *string         `json:"lastSyncError"`
	LastSyncResult *CycleResult    `json:"lastSyncResult"`
	LastRequestID  *string         `json:"lastRequestId"`
	LastLog        *activity.Entry `json:"lastLog"`

	endpoint delivery.Endpoint
}

// Take builds a snapshot through r.
func Take(ctx context.Context, r db.Reader, now time.Time) (*Snapshot, error) {
	s, err := settings.Read(ctx, r)
	if err != nil {
		return nil, err
	}
	q, err := outbox.Load(ctx, r, outbox.Policy{}, now)
	if err != nil {
		return nil, err
	}
	meta, err := LoadMeta(ctx, r)
	if err != nil {
		return nil, err
	}
	total, err := journal.NewView(r).Count(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := activity.Read(ctx, r)
	if err != nil {
		logs = nil
	}

	counts := q.Counts()
	snap := &Snapshot{
		Recording:      s.Recording,
		ServerURL:      s.ServerURL,
		APITokenSet:    s.APIToken != "",
		AutoSync:       s.AutoSync,
		DeviceID:       s.DeviceID,
		Pending:        counts.Pending,
		Failed:         counts.Failed,
		Sending:        counts.Sending,
		Total:          total,
		LastSyncAt:     meta.LastSyncAt,
		LastSyncError:  meta.LastSyncError,
		LastSyncResult: meta.LastSyncResult,
		endpoint:       s.Endpoint(),
	}

	rid := ""
	if meta.LastSyncResult != nil {
		rid = meta.LastSyncResult.LastRequestID
	}
	if rid == "" {
		rid = q.LastRequestID()
	}
	if rid != "" {
		snap.LastRequestID = &rid
	}
	if len(logs) > 0 {
		last := logs[len(logs)-1]
		snap.LastLog = &last
	}
	return snap, nil
}

// Report converts the snapshot to the status push body.
func (s *Snapshot) Report() delivery.StatusReport {
	return delivery.StatusReport{
		DeviceID:      s.DeviceID,
		Pending:       s.Pending,
		Failed:        s.Failed,
		Sending:       s.Sending,
		LastRequestID: s.LastRequestID,
		LastSyncAt:    s.LastSyncAt,
		LastSyncError: s.LastSyncError,
	}
}
