package wlan

import "time"

// quality.go implements C8: the roaming quality sampler. It maintains an
// EWMA-smoothed quality estimate for the currently connected BSS from
// SME signal reports and decides, at a rate-limited cadence, whether the
// link is poor enough to justify a roam scan.

// EWMA smoothing factor applied to each new RSSI/SNR sample. Lower values
// smooth more aggressively; 0.2 matches a ~5-sample averaging window.
const qualityEWMAAlpha = 0.2

// roamScanMinInterval is the minimum time between roam-scan evaluations
// for a single connection, so a momentarily noisy link cannot trigger a
// scan storm.
const roamScanMinInterval = 5 * time.Minute

// roamScanQualityThreshold is the quality score below which a roam scan
// would be triggered. It is fixed at 0.0 — since quality scores computed
// by qualityScore are always >= 0, this comparison can never be true.
// This mirrors the upstream implementation, where the same branch is
// gated behind a configuration flag that is never enabled in the
// open-source tree (see DESIGN.md, Open Question 1): the branch is kept,
// not special-cased away, so that flipping the threshold later is a
// one-constant change rather than a restructure.
const roamScanQualityThreshold = 0.0

// updateQuality folds a new signal sample into the current BSS's rolling
// quality record, initializing one if this is the first sample since the
// last connect. It returns rssi_velocity: the signed change between the
// previous EWMA RSSI and the newly computed one (spec.md §4.5 Connected),
// which is 0 on the first sample since there is no previous value yet.
func (c *ClientStateMachine) updateQuality(sig SignalData) float64 {
	if c.quality == nil {
		c.quality = &BssQualityData{BSSID: c.currentBSS.BSSID}
	}
	q := c.quality
	if q.SampleCount == 0 {
		q.EWMARSSI = float64(sig.RSSIDBM)
		q.EWMASNR = float64(sig.SNRDB)
		q.SampleCount++
		return 0
	}
	prevRSSI := q.EWMARSSI
	q.EWMARSSI = qualityEWMAAlpha*float64(sig.RSSIDBM) + (1-qualityEWMAAlpha)*q.EWMARSSI
	q.EWMASNR = qualityEWMAAlpha*float64(sig.SNRDB) + (1-qualityEWMAAlpha)*q.EWMASNR
	q.SampleCount++
	return q.EWMARSSI - prevRSSI
}

// qualityScore maps the current EWMA RSSI/SNR pair to a non-negative
// score: 0 at or below -90 dBm, increasing linearly to 100 at -40 dBm and
// above. SNR is not separately weighted here — the original upstream
// scorer folds multiple signal dimensions together; this keeps the single
// dominant one (RSSI) for a tractable, testable formula.
func qualityScore(q *BssQualityData) float64 {
	const floor, ceiling = -90.0, -40.0
	if q.EWMARSSI <= floor {
		return 0
	}
	if q.EWMARSSI >= ceiling {
		return 100
	}
	return (q.EWMARSSI - floor) / (ceiling - floor) * 100
}

// shouldRoamScan reports whether a roam scan should be triggered for the
// current connection, applying the rate limit and the (permanently
// inert, see roamScanQualityThreshold) quality gate.
func shouldRoamScan(q *BssQualityData, now time.Time) bool {
	if q == nil {
		return false
	}
	if !q.LastRoamScanAt.IsZero() && now.Sub(q.LastRoamScanAt) < roamScanMinInterval {
		return false
	}
	return qualityScore(q) < roamScanQualityThreshold
}
