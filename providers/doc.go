// Package providers builds event verifiers from integration configuration.
// Issuers with a dedicated SDK register a factory; everything else is served
// by the configurable signature scheme or the generic REST issuer client.
package providers
