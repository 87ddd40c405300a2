package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces free-form values that must not reach the log sink.
const RedactedValue = "[REDACTED]"

// Keys whose values are operational metadata and are emitted verbatim.
var safeKeys = map[string]struct{}{
	"service":      {},
	"env":          {},
	"message":      {},
	"severity":     {},
	"timestamp":    {},
	"error":        {},
	"reason":       {},
	"component":    {},
	"operation":    {},
	"kind":         {},
	"method":       {},
	"request_id":   {},
	"agreement_id": {},
	"status":       {},
	"role":         {},
}

// IsSafeKey reports whether values logged under key bypass redaction.
func IsSafeKey(key string) bool {
	_, ok := safeKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField redacts value unless key is a safe key. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsSafeKey(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskAddress shortens a hex identity to its first and last four digits so
// log lines can be correlated without carrying full account identities.
func MaskAddress(key, addr string) slog.Attr {
	hex := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if len(hex) <= 8 {
		return slog.String(key, addr)
	}
	return slog.String(key, "0x"+hex[:4]+"…"+hex[len(hex)-4:])
}
