package wlan

import "errors"

// Sentinel errors shared across the scan orchestrator, state machine, and
// interface manager. Wrapped with fmt.Errorf("...: %w") at call sites so
// errors.Is still matches through context.
var (
	// ErrSMEUnavailable indicates the SME transport could not be reached
	// at all (channel closed, peer gone). Never retried.
	ErrSMEUnavailable = errors.New("sme transport unavailable")

	// ErrSMEBusy indicates a transient SME-side busy/retry signal (the
	// equivalent of Fuchsia's ShouldWait). Retried once after a fixed
	// delay before being surfaced as a failure.
	ErrSMEBusy = errors.New("sme busy, retry")

	// ErrScanCancelled indicates a scan was cancelled before it produced
	// a result, typically because the requesting interface was destroyed.
	ErrScanCancelled = errors.New("scan cancelled")

	// ErrNoCandidates indicates a scan completed but produced no
	// connectable candidate for any saved network.
	ErrNoCandidates = errors.New("no connection candidates found")

	// ErrConnectExhausted indicates every connection attempt allowed by
	// the retry policy failed.
	ErrConnectExhausted = errors.New("connection attempts exhausted")

	// ErrInterfaceNotFound indicates an operation referenced an interface
	// slot the manager does not know about.
	ErrInterfaceNotFound = errors.New("interface not found")

	// ErrInterfaceExists indicates AddIface was called for an interface
	// the manager already has a slot for.
	ErrInterfaceExists = errors.New("interface already registered")

	// ErrNoClientInterfaces indicates an operation that requires at
	// least one client interface (e.g. Connect) found none.
	ErrNoClientInterfaces = errors.New("no client interfaces available")

	// ErrManagerClosed indicates an operation was attempted after the
	// interface manager was shut down.
	ErrManagerClosed = errors.New("interface manager closed")

	// ErrIteratorClosed indicates Next was called on a result iterator
	// after the consumer closed it early.
	ErrIteratorClosed = errors.New("result iterator closed")

	// ErrResultTooLarge indicates a single ScanResult exceeds the
	// per-batch size envelope on its own; a distinct fatal protocol error,
	// not an early-close (spec.md §4.3/§6).
	ErrResultTooLarge = errors.New("result exceeds maximum batch size")

	// ErrNetworkNotFound indicates a saved-networks store lookup found
	// no entry for the requested identifier.
	ErrNetworkNotFound = errors.New("network not found in store")

	// ErrApNotFound indicates StopAp referenced an AP slot the manager
	// does not currently have running.
	ErrApNotFound = errors.New("ap not found")

	// ErrNoApIface indicates StartAp could not obtain an AP-capable
	// interface from PhyManager.
	ErrNoApIface = errors.New("no ap-capable interface available")
)
