package wlan

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSME is an in-memory SMETransport used across the package's tests.
// It lets a test script the outcome of the next Connect/Scan call and
// inject asynchronous events.
type fakeSME struct {
	mu sync.Mutex

	connectOutcomes []ConnectOutcome
	connectErrs     []error
	connectCalls    int

	scanObservations [][]BSSDescription
	scanErrs         []error
	scanCalls        int

	disconnectCalls int

	events chan SMEEvent
}

func newFakeSME() *fakeSME {
	return &fakeSME{events: make(chan SMEEvent, 16)}
}

func (f *fakeSME) Scan(ctx context.Context, req ScanRequest) ([]BSSDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.scanCalls
	f.scanCalls++
	var err error
	if idx < len(f.scanErrs) {
		err = f.scanErrs[idx]
	}
	var obs []BSSDescription
	if idx < len(f.scanObservations) {
		obs = f.scanObservations[idx]
	}
	return obs, err
}

func (f *fakeSME) Connect(ctx context.Context, candidate ConnectionCandidate) (ConnectOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.connectCalls
	f.connectCalls++
	var err error
	if idx < len(f.connectErrs) {
		err = f.connectErrs[idx]
	}
	var outcome ConnectOutcome
	if idx < len(f.connectOutcomes) {
		outcome = f.connectOutcomes[idx]
	}
	return outcome, err
}

func (f *fakeSME) Disconnect(ctx context.Context, reason DisconnectReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	close(f.events)
	f.events = make(chan SMEEvent, 16)
	return nil
}

func (f *fakeSME) Events() <-chan SMEEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

// fakePhy is an in-memory PhyManager for manager tests.
type fakePhy struct {
	mu          sync.Mutex
	countryErr  error
	countrySet  []string
	createIfces []InterfaceSlot
	createErr   error
	smes        map[uint16]SMETransport
	destroyed   []uint16
	events      chan InterfaceEvent
	apSlot      *InterfaceSlot
	apErr       error
	apDestroyed []uint16
	wpa3Client  bool
}

func newFakePhy() *fakePhy {
	return &fakePhy{smes: make(map[uint16]SMETransport), events: make(chan InterfaceEvent, 16)}
}

func (f *fakePhy) CreateAllClientInterfaces(ctx context.Context) ([]InterfaceSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createIfces, f.createErr
}

func (f *fakePhy) DestroyClientInterface(ctx context.Context, ifaceID uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, ifaceID)
	return nil
}

func (f *fakePhy) SetCountry(ctx context.Context, alpha2 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countrySet = append(f.countrySet, alpha2)
	return f.countryErr
}

func (f *fakePhy) SMEFor(ifaceID uint16) (SMETransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sme, ok := f.smes[ifaceID]
	if !ok {
		return nil, ErrInterfaceNotFound
	}
	return sme, nil
}

func (f *fakePhy) Events() <-chan InterfaceEvent {
	return f.events
}

func (f *fakePhy) CreateOrGetApIface(ctx context.Context) (*InterfaceSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apSlot, f.apErr
}

func (f *fakePhy) DestroyApIface(ctx context.Context, ifaceID uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apDestroyed = append(f.apDestroyed, ifaceID)
	return nil
}

func (f *fakePhy) HasWpa3Client() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wpa3Client
}
