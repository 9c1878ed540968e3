// Package client wraps the Corral HTTP API for CLI usage: quota lookup,
// runtime snapshot, manual sync, and allocation requests. Credentials are
// base64-encoded on the wire and decoded at the server edge.
package client
