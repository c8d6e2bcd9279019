package wlan

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// scan.go implements C4: the scan orchestrator. One PerformScan call runs
// a passive scan, optionally follows it with a directed active scan for
// hidden saved networks, aggregates both passes, and fans the resulting
// ScanResult list out to every registered consumer concurrently —
// mirroring bfd.Manager.ReconcileSessions's use of errgroup-style
// concurrent fan-out. When several consumers fail, only the first failure
// is returned.

// ScanResultConsumer receives the aggregated results of one scan. Per
// spec.md §4.4 step 5, delivery to every consumer must complete before
// PerformScan returns, but a consumer that closes its iterator early
// (ErrIteratorClosed) is tolerated, not treated as a scan failure.
type ScanResultConsumer interface {
	Deliver(ctx context.Context, it *ResultIterator) error
}

// ScanResultConsumerFunc adapts a function to ScanResultConsumer.
type ScanResultConsumerFunc func(ctx context.Context, it *ResultIterator) error

func (f ScanResultConsumerFunc) Deliver(ctx context.Context, it *ResultIterator) error {
	return f(ctx, it)
}

// ScanOrchestrator runs scans against one interface's SME transport.
type ScanOrchestrator struct {
	sme       SMETransport
	store     SavedNetworkStore
	telemetry TelemetrySink
	logger    *slog.Logger
}

// NewScanOrchestrator constructs an orchestrator for one interface.
func NewScanOrchestrator(sme SMETransport, store SavedNetworkStore, telemetry TelemetrySink, logger *slog.Logger) *ScanOrchestrator {
	if telemetry == nil {
		telemetry = NoopTelemetrySink{}
	}
	return &ScanOrchestrator{
		sme:       sme,
		store:     store,
		telemetry: telemetry,
		logger:    logger.With(slog.String("component", "scan_orchestrator")),
	}
}

// PerformScan runs one passive scan, conditionally follows it with a
// directed active scan for hidden saved networks (spec.md §4.4 step 4:
// skipped entirely when there are no hidden candidates, per SPEC_FULL.md
// §4.1's restored original behavior), aggregates both passes, and
// delivers the result to every consumer concurrently. It returns the
// aggregated results for the caller's own bookkeeping (e.g. the
// interface manager's status surface) in addition to the copies each
// consumer receives through its own iterator.
func (o *ScanOrchestrator) PerformScan(ctx context.Context, reason ScanReason, consumers []ScanResultConsumer) ([]ScanResult, error) {
	o.telemetry.Emit(TelemetryEvent{Kind: TelemetryScanStarted})

	agg := NewResultAggregator()

	passive, err := o.sme.Scan(ctx, ScanRequest{Kind: ScanPassive})
	if err != nil {
		return nil, fmt.Errorf("passive scan: %w", err)
	}
	for _, bss := range passive {
		bss.ObservedInPassiveScan = true
		agg.Insert(bss)
	}

	hidden := o.store.HiddenCandidates()
	if len(hidden) > 0 {
		ssids := make([]string, len(hidden))
		for i, h := range hidden {
			ssids[i] = h.ID.SSID
		}
		if reason == ScanReasonNetworkSelection {
			o.emitActiveScanSsidCount(len(ssids))
		}
		active, err := o.sme.Scan(ctx, ScanRequest{Kind: ScanActive, SSIDs: ssids})
		if err != nil {
			o.logger.Warn("directed active scan failed, continuing with passive results only",
				slog.String("err", err.Error()))
		} else {
			for _, bss := range active {
				agg.Insert(bss)
			}
		}
	} else if reason == ScanReasonNetworkSelection {
		o.emitActiveScanSsidCount(0)
	}

	results := agg.Results()
	o.telemetry.Emit(TelemetryEvent{Kind: TelemetryScanCompleted, ScanFound: len(results)})

	if err := o.deliver(ctx, results, consumers); err != nil {
		return results, err
	}
	return results, nil
}

// deliver fans results out to every consumer concurrently via its own
// ResultIterator, waiting for all to finish. A consumer returning
// ErrIteratorClosed (it closed early, by design) does not fail the group;
// any other error does.
func (o *ScanOrchestrator) deliver(ctx context.Context, results []ScanResult, consumers []ScanResultConsumer) error {
	if len(consumers) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, consumer := range consumers {
		consumer := consumer
		it := NewResultIterator(results)
		g.Go(func() error {
			err := consumer.Deliver(gctx, it)
			if err != nil && !isEarlyClose(err) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func isEarlyClose(err error) bool {
	return err == ErrIteratorClosed
}

// emitActiveScanSsidCount reports the number of SSIDs requested in a
// network-selection directed active scan, bucketed per spec.md §4.4 step 6.
func (o *ScanOrchestrator) emitActiveScanSsidCount(count int) {
	o.telemetry.Emit(TelemetryEvent{
		Kind:                 TelemetryActiveScanSsidsRequested,
		ActiveScanSsidCount:  count,
		ActiveScanSsidBucket: activeScanSsidBucket(count),
	})
}

// activeScanSsidBucket maps a raw SSID count onto spec.md §4.4 step 6's
// fixed bucket labels: {0,1,2-4,5-10,11-20,21-50,51-100,>100}.
func activeScanSsidBucket(count int) string {
	switch {
	case count == 0:
		return "0"
	case count == 1:
		return "1"
	case count <= 4:
		return "2-4"
	case count <= 10:
		return "5-10"
	case count <= 20:
		return "11-20"
	case count <= 50:
		return "21-50"
	case count <= 100:
		return "51-100"
	default:
		return ">100"
	}
}

// ResolveCandidates matches ScanResults against the saved-networks store
// to produce connection candidates ordered the same way the results are
// (by SSID); each candidate carries the strongest BSS observed for its
// network. Networks with no saved entry, or with
// no compatible BSS observed, are skipped.
func ResolveCandidates(store SavedNetworkStore, results []ScanResult) []ConnectionCandidate {
	var out []ConnectionCandidate
	for _, r := range results {
		if !r.Compatible || len(r.Entries) == 0 {
			continue
		}
		saved, err := store.Lookup(r.ID)
		if err != nil {
			continue
		}
		var best *BSSDescription
		for i := range r.Entries {
			if best == nil || r.Entries[i].RSSIDBM > best.RSSIDBM {
				best = &r.Entries[i]
			}
		}
		if best == nil {
			continue
		}
		out = append(out, ConnectionCandidate{
			NetworkID:  r.ID,
			Credential: saved.Credential,
			BSS:        *best,
		})
	}
	return out
}
