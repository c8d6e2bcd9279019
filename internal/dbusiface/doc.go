// Package dbusiface implements wlan.SMETransport and wlan.PhyManager
// against a wpa_supplicant-style D-Bus service (fi.w1.wpa_supplicant1),
// the production backend for the connection policy core.
//
// The wiring style is grounded in the IWD D-Bus client found in the
// retrieval pack (an x-network-style station manager): a single
// *dbus.Conn shared across the package, manual "type='signal',..."
// match rules registered via the bus object's AddMatch method, and a
// background goroutine draining conn.Signal into per-concern handlers.
// Unlike that reference client, waits on D-Bus signals (such as a scan's
// completion) honour ctx: a caller cancelling ctx unblocks the waiting
// goroutine. The D-Bus method calls themselves (dbus.Call) have no
// context support and block until the bus replies.
package dbusiface
