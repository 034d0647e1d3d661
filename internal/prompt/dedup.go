package prompt

import "time"

// DuplicateReason says which rule rejected a capture.
type DuplicateReason string

const (
	NotDuplicate         DuplicateReason = ""
	DuplicateFingerprint DuplicateReason = "fingerprint"
	DuplicateContentHash DuplicateReason = "content_hash"
)

// DedupWindows holds the two windows the duplicate rules use.
type DedupWindows struct {
	// Bucket is the fingerprint window
	Bucket time.Duration
	// Legacy is the content hash window
	Legacy time.Duration
}

// CheckDuplicate compares a capture against the most recently stored event only.
// A capture is a duplicate when it shares the fingerprint of prev and arrives within
// the bucket window, or shares its content hash and arrives within the legacy window.
// prev may be nil. Captures timestamped before prev never match.
func CheckDuplicate(prev *Event, fp Fingerprint, at time.Time, w DedupWindows) (DuplicateReason, time.Duration) {
	if prev == nil {
		return NotDuplicate, 0
	}
	dt := at.Sub(prev.CreatedAt)
	if dt < 0 {
		return NotDuplicate, dt
	}
	if prev.EventFingerprint == fp.Fingerprint && dt < w.Bucket {
		return DuplicateFingerprint, dt
	}
	if prev.PromptHash == fp.ContentHash && dt < w.Legacy {
		return DuplicateContentHash, dt
	}
	return NotDuplicate, dt
}
