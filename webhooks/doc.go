// Package webhooks turns untrusted inbound deliveries into verified events.
//
// Three verifiers produce a VerifiedEvent: SignatureVerifier checks a shared
// secret HMAC, AuthenticatedVerifier delegates the check to an issuer SDK, and
// RemoteEventFetcher discards the body and re-fetches the event by id from the
// issuer's authenticated API. VerifiedEvent has no other constructor.
package webhooks
