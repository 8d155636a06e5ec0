package webhooks

import "strings"

const DefaultSignatureHeader = "X-Signature"

// GenericHexSHA256 signs the raw body with HMAC-SHA256 and sends lowercase
// hex in X-Signature.
func GenericHexSHA256(secret string) SignatureScheme {
	return SignatureScheme{
		Secret:    secret,
		Algorithm: AlgorithmSHA256,
		Encoding:  EncodingHex,
		Header:    DefaultSignatureHeader,
	}
}

func PaystackScheme(secret string) SignatureScheme {
	return SignatureScheme{
		Secret:    secret,
		Algorithm: AlgorithmSHA512,
		Encoding:  EncodingHex,
		Header:    "X-Paystack-Signature",
	}
}

// SquareScheme signs the notification URL followed by the body.
func SquareScheme(secret string) SignatureScheme {
	return SignatureScheme{
		Secret:            secret,
		Algorithm:         AlgorithmSHA256,
		Encoding:          EncodingBase64,
		Header:            "X-Square-Hmacsha256-Signature",
		CanonicalTemplate: PlaceholderURL + PlaceholderBody,
	}
}

func ShopifyScheme(secret string) SignatureScheme {
	return SignatureScheme{
		Secret:    secret,
		Algorithm: AlgorithmSHA256,
		Encoding:  EncodingBase64,
		Header:    "X-Shopify-Hmac-Sha256",
	}
}

func RazorpayScheme(secret string) SignatureScheme {
	return SignatureScheme{
		Secret:    secret,
		Algorithm: AlgorithmSHA256,
		Encoding:  EncodingHex,
		Header:    "X-Razorpay-Signature",
	}
}

// PrefixedScheme is the "sha256=<hex>" header format.
func PrefixedScheme(header string, secret string) SignatureScheme {
	return SignatureScheme{
		Secret:        secret,
		Algorithm:     AlgorithmSHA256,
		Encoding:      EncodingHex,
		Header:        strings.TrimSpace(header),
		ValueTemplate: "sha256=" + PlaceholderDigest,
	}
}

// TimestampedScheme signs "<timestamp>.<body>" and carries the timestamp in a
// separate header.
func TimestampedScheme(header string, timestampHeader string, secret string) SignatureScheme {
	return SignatureScheme{
		Secret:            secret,
		Algorithm:         AlgorithmSHA256,
		Encoding:          EncodingHex,
		Header:            strings.TrimSpace(header),
		CanonicalTemplate: PlaceholderTimestamp + "." + PlaceholderBody,
		TimestampHeader:   strings.TrimSpace(timestampHeader),
		Tolerance:         DefaultTimestampTolerance,
	}
}

// Preset returns a named scheme for secret.
func Preset(name string, secret string) (SignatureScheme, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "generic", "hex_sha256":
		return GenericHexSHA256(secret), true
	case "paystack":
		return PaystackScheme(secret), true
	case "square":
		return SquareScheme(secret), true
	case "shopify":
		return ShopifyScheme(secret), true
	case "razorpay":
		return RazorpayScheme(secret), true
	case "prefixed", "github":
		return PrefixedScheme("X-Hub-Signature-256", secret), true
	case "timestamped":
		return TimestampedScheme("X-Webhook-Signature", "X-Webhook-Timestamp", secret), true
	default:
		return SignatureScheme{}, false
	}
}
