// Package certs resolves certificate reference URIs into TLS server
// configurations for encrypted listeners.
//
// References name their source by scheme: file:// loads PEM files from
// disk, vault:// reads cert and key fields from a Vault KV v2 secret, and
// selfsigned:// generates an ephemeral certificate on the spot. The factory
// resolves references during server creation, so a broken reference fails
// the creation rather than the first TLS handshake.
package certs
