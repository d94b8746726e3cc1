// Package app assembles the roll services into runnable processes: the
// coordinator that dispatches batches and tracks group rolls, the
// participant that answers delegated requests, and the hub server that
// hosts the relay and the shared artifact store.
package app
