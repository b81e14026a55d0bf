// Package discovery publishes provisioned server endpoints to DNS.
//
// The announcer maintains one _<service>._tcp.<zone> SRV record per
// running server through RFC 2136 dynamic updates, optionally signed with
// TSIG. Records are inserted when the factory finishes a creation and
// removed by the instance watchdog during teardown. Announcement failures
// are logged but never fail the lifecycle operation, so DNS outages cannot
// stop servers from starting or stopping.
//
// Resolve performs the matching SRV lookup for clients.
package discovery
