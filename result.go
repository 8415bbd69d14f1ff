// Package rft implements a reliable file-transfer service over an
// unreliable UDP datagram transport: a selectable Stop-and-Wait or
// Go-Back-N(5) reliable-data-transfer protocol, a three-way handshake,
// and a server dispatcher that demultiplexes concurrent client
// sessions. This package exposes the session-start API for CLI
// collaborators: Upload and Download (client.go) and Serve (server.go).
package rft

import "time"

// Result is what a completed client transfer reports back.
type Result struct {
	BytesTransferred int64
	Duration         time.Duration
}
