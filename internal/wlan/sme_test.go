package wlan

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newRetryingFakeSME() (*fakeSME, *RetryingSMETransport) {
	sme := newFakeSME()
	r := NewRetryingSMETransport(sme)
	r.wait = func(ctx context.Context, d time.Duration) error { return nil }
	return sme, r
}

func TestRetryingSMETransport_ScanRetriesOnceOnBusy(t *testing.T) {
	sme, r := newRetryingFakeSME()
	sme.scanErrs = []error{ErrSMEBusy, nil}
	sme.scanObservations = [][]BSSDescription{nil, nil}

	obs, err := r.Scan(context.Background(), ScanRequest{Kind: ScanPassive})
	if err != nil {
		t.Fatalf("expected the retry to succeed, got %v", err)
	}
	if len(obs) != 0 {
		t.Fatalf("expected empty observation list, got %v", obs)
	}
	if sme.scanCalls != 2 {
		t.Fatalf("expected exactly 2 scan calls (original + one retry), got %d", sme.scanCalls)
	}
}

func TestRetryingSMETransport_ScanSecondBusySurfacesCancelled(t *testing.T) {
	sme, r := newRetryingFakeSME()
	sme.scanErrs = []error{ErrSMEBusy, ErrSMEBusy}

	_, err := r.Scan(context.Background(), ScanRequest{Kind: ScanPassive})
	if !errors.Is(err, ErrScanCancelled) {
		t.Fatalf("expected ErrScanCancelled on a second busy response, got %v", err)
	}
	if sme.scanCalls != 2 {
		t.Fatalf("expected exactly 2 scan calls, got %d", sme.scanCalls)
	}
}

func TestRetryingSMETransport_ScanSecondOtherFailureSurfacesGeneralError(t *testing.T) {
	sme, r := newRetryingFakeSME()
	sme.scanErrs = []error{ErrSMEBusy, errors.New("driver removed")}

	_, err := r.Scan(context.Background(), ScanRequest{Kind: ScanPassive})
	if !errors.Is(err, ErrSMEUnavailable) {
		t.Fatalf("expected ErrSMEUnavailable on a second non-busy failure, got %v", err)
	}
}
