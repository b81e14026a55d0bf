// Package registry implements the process-wide server registry: the single
// source of truth for which listening endpoints are currently bound.
//
// One mutex guards the endpoint table. Register is an insert-if-absent under
// that lock, so a creation flow that checks Available and then calls
// Register observes a consistent winner even when many creations race on the
// same endpoint: exactly one Register succeeds, the rest fail with an error
// wrapping interfaces.ErrPortInUse.
//
// Unregister takes the registration handle issued by Register and removes it
// only while it is still the endpoint's current holder. That makes removal
// idempotent and makes it impossible for a stale handle to evict a successor
// registration.
//
// The package also provides testify-based mocks (MockRegistry,
// MockCertificateSource) used by consumers to test their registry
// interactions.
package registry
