// Package core contains the webhook pipeline contracts shared by every other
// package: the inbound request envelope, handler outcomes, the error taxonomy,
// claim store contracts, configuration, and logging glue. Core must not depend
// on issuer-specific or transport-specific adapters.
package core
