package core

import (
	"encoding/json"
	"slices"
	"strings"
)

const RedactedValue = "[REDACTED]"

// Redactor masks values under sensitive keys and card numbers found under
// any other key. Keys are matched case-insensitively by substring; Keep
// wins over Sensitive.
type Redactor struct {
	Sensitive []string
	Keep      []string
	MaskPANs  bool
}

// DefaultRedactor covers credentials, cardholder data and contact details
// while leaving event identifiers readable.
var DefaultRedactor = Redactor{
	Sensitive: []string{
		"password", "secret", "token", "authorization", "api_key", "apikey",
		"signature", "card", "cvc", "cvv", "iban", "account_number",
		"routing_number", "email", "phone", "address", "ssn", "tax_id", "dob",
		"fingerprint",
	},
	Keep: []string{
		"id", "type", "object", "integration_id", "event_id", "event_type",
		"livemode", "mode", "created", "idempotency_key", "trace_id", "request_id",
	},
	MaskPANs: true,
}

func RedactSensitiveMap(metadata map[string]any) map[string]any {
	return DefaultRedactor.Map(metadata)
}

// RedactPayload decodes a JSON body and masks it with DefaultRedactor.
// Bodies that are not JSON objects are replaced wholesale.
func RedactPayload(body []byte) map[string]any {
	if len(body) == 0 {
		return map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return map[string]any{"body": RedactedValue, "bytes": len(body)}
	}
	return DefaultRedactor.Map(decoded)
}

// Map returns a masked copy of source; source is not modified.
func (r Redactor) Map(source map[string]any) map[string]any {
	out := make(map[string]any, len(source))
	for key, value := range source {
		if r.sensitive(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = r.value(value)
	}
	return out
}

func (r Redactor) value(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return r.Map(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = r.value(item)
		}
		return out
	case string:
		if r.MaskPANs {
			if last4, ok := panSuffix(typed); ok {
				return RedactedValue + " ****" + last4
			}
		}
		return typed
	default:
		return value
	}
}

func (r Redactor) sensitive(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || slices.Contains(r.Keep, key) {
		return false
	}
	return slices.ContainsFunc(r.Sensitive, func(token string) bool {
		return strings.Contains(key, token)
	})
}

// panSuffix reports whether value is a 13 to 19 digit Luhn-valid number,
// optionally grouped by spaces or dashes, and returns its last four digits.
func panSuffix(value string) (string, bool) {
	digits := make([]byte, 0, 19)
	for i := 0; i < len(value); i++ {
		switch c := value[i]; {
		case c >= '0' && c <= '9':
			digits = append(digits, c)
		case c == ' ' || c == '-':
		default:
			return "", false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return "", false
	}
	sum := 0
	for i := range digits {
		d := int(digits[len(digits)-1-i] - '0')
		if i%2 == 1 {
			if d *= 2; d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	if sum%10 != 0 {
		return "", false
	}
	return string(digits[len(digits)-4:]), true
}
