// Package domain defines the value types exchanged by the roll request
// workflow: roll types and configs, the versioned request and completion
// report contracts, per-actor delegation decisions, the actor lifecycle state
// machine, and the group roll payload persisted on shared artifacts.
//
// Everything here is a plain value. Nothing in this package performs I/O.
package domain
