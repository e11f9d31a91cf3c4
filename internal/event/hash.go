package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DomainEvent is the domain prefix for event fingerprints.
// The version suffix allows the canonical form to change later.
const DomainEvent = "loyalty/event/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalMap returns the event as a canonical-JSON-ready map.
// Amounts are rendered with strconv so no float reaches the encoder.
func (e Event) CanonicalMap() map[string]any {
	m := map[string]any{
		"kind":     e.Kind.String(),
		"sequence": e.Sequence,
		"time":     e.Time.UTC().Format(time.RFC3339Nano),
	}
	switch p := e.Payload.(type) {
	case CustomerPayload:
		m["customer_id"] = p.CustomerID
	case OrderPlacedPayload:
		m["customer_id"] = p.CustomerID
		m["order_id"] = p.OrderID
		m["total_amount"] = strconv.FormatFloat(p.TotalAmount, 'g', -1, 64)
	case OrderPayload:
		m["order_id"] = p.OrderID
	}
	return m
}

// Fingerprint returns the content hash of the event.
// Redeliveries of the same event always produce the same fingerprint.
func Fingerprint(e Event) (string, error) {
	canonical, err := MarshalCanonical(e.CanonicalMap())
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", e, err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when the event is known to be valid.
func MustFingerprint(e Event) string {
	fp, err := Fingerprint(e)
	if err != nil {
		panic(err)
	}
	return fp
}
