// Package httpserver exposes the control API for provisioning and stopping
// servers at runtime, plus the usual health and diagnostic endpoints.
//
// # Routes
//
// The API lives under /api/v1:
//
//	GET    /api/v1/servers              list live servers
//	POST   /api/v1/servers              provision a server
//	GET    /api/v1/servers/{server_id}  fetch one server
//	DELETE /api/v1/servers/{server_id}  stop a server and await teardown
//
// Creation failures map onto status codes by error class: 409 for a port
// already claimed, 400 for invalid arguments, 502 for listener bind
// failures, 500 for dependency resolution failures. Setting
// HTTPServerConfig.AdminTokenHash guards /api/v1 behind a bearer token
// checked against the bcrypt hash.
//
// Health endpoints (/livez, /readyz, /drain, /undrain) and the optional
// pprof mount under /debug are unauthenticated.
//
// Client is a typed client for the same API.
package httpserver
