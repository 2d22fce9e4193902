// Package timeouts defines shared durations used across the realtime client
// and its reference backend, so both ends agree on cadence.
package timeouts

import "time"

// Handshake caps the websocket opening handshake.
const Handshake = 5 * time.Second

// Write caps a single websocket frame write.
const Write = 5 * time.Second

// Request caps a single REST call to the game backend.
const Request = 5 * time.Second

// Heartbeat is the PING cadence on an open channel.
const Heartbeat = 30 * time.Second

// Poll is the combat-state polling cadence while combat is active.
const Poll = 3 * time.Second

// ReconnectBase is the first reconnect delay; later attempts double it.
const ReconnectBase = time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long a process waits for in-flight work on exit.
const Shutdown = 5 * time.Second
