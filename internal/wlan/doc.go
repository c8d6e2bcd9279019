// Package wlan implements the client Wi-Fi connection policy core: scan
// orchestration, per-interface connection state machines, and the
// interface manager that owns them.
//
// The package is organized around the same single-threaded-per-goroutine
// cooperative model as a BFD session: each ClientStateMachine owns one
// network interface slot and communicates with the rest of the system
// exclusively through channels, so its internal fields never need a mutex.
// The Manager holds locks to protect its own inventory of slots and its
// in-flight network-selection flag; InMemorySavedNetworkStore guards its
// map with its own mutex.
package wlan
