package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"
)

// ContentHash returns the hex SHA-256 of text. It is sent to the server as promptHash.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Bucket returns the dedup time bucket for t: floor(unixMs / window).
func Bucket(t time.Time, window time.Duration) int64 {
	ms := window.Milliseconds()
	if ms <= 0 {
		return 0
	}
	unixMs := t.UnixMilli()
	b := unixMs / ms
	if unixMs < 0 && unixMs%ms != 0 {
		b--
	}
	return b
}

// EventFingerprint returns the 8 hex digit FNV-1a hash of
// "site|conversationID|text|bucket".
func EventFingerprint(site, conversationID, text string, bucket int64) string {
	h := fnv.New32a()
	h.Write([]byte(site))
	h.Write([]byte{'|'})
	h.Write([]byte(conversationID))
	h.Write([]byte{'|'})
	h.Write([]byte(text))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(bucket, 10)))
	return fmt.Sprintf("%08x", h.Sum32())
}

// Fingerprint is the pair of hashes computed for a capture.
type Fingerprint struct {
	ContentHash string
	Fingerprint string
	Bucket      int64
}

// Compute fingerprints a capture made at t.
func Compute(site, conversationID, text string, t time.Time, window time.Duration) Fingerprint {
	bucket := Bucket(t, window)
	return Fingerprint{
		ContentHash: ContentHash(text),
		Fingerprint: EventFingerprint(site, conversationID, text, bucket),
		Bucket:      bucket,
	}
}
