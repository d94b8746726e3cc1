// Package timeouts defines shared duration defaults used across roll
// orchestration components. Every value here is a policy default that the
// owning component config may override.
package timeouts

import "time"

// DispatchSpacing separates consecutive requests inside one dispatch so a
// participant owning several actors is not flooded with prompts.
const DispatchSpacing = 100 * time.Millisecond

// EvictionGrace is how long a completed group roll session stays in memory
// to absorb duplicate or late reports.
const EvictionGrace = 60 * time.Second

// DeletionDelay is how long a suppressed individual artifact stays hidden
// before it is deleted.
const DeletionDelay = 1 * time.Second

// StaleSession is the artifact age after which an incomplete session is
// dropped from memory by the sweeper.
const StaleSession = 10 * time.Minute

// SweepInterval is the period of the stale-session sweeper.
const SweepInterval = 30 * time.Second

// TransportSend caps one transport send or report call.
const TransportSend = 5 * time.Second

// PresenceTTL is how long a presence heartbeat keeps a participant online.
const PresenceTTL = 30 * time.Second

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long a server waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
