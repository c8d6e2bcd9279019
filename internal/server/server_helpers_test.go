package server_test

import (
	"context"

	"github.com/openwlan/wlanpolicyd/internal/wlan"
)

// fakePhy is a minimal wlan.PhyManager stand-in for server package tests,
// which only exercise the HTTP adapter layer and never need a real
// interface to come up.
type fakePhy struct {
	events chan wlan.InterfaceEvent
}

func newTestFakePhy() *fakePhy {
	return &fakePhy{events: make(chan wlan.InterfaceEvent, 1)}
}

func (f *fakePhy) CreateAllClientInterfaces(ctx context.Context) ([]wlan.InterfaceSlot, error) {
	return nil, nil
}

func (f *fakePhy) DestroyClientInterface(ctx context.Context, ifaceID uint16) error {
	return nil
}

func (f *fakePhy) SetCountry(ctx context.Context, alpha2 string) error {
	return nil
}

func (f *fakePhy) SMEFor(ifaceID uint16) (wlan.SMETransport, error) {
	return nil, wlan.ErrInterfaceNotFound
}

func (f *fakePhy) Events() <-chan wlan.InterfaceEvent {
	return f.events
}

func (f *fakePhy) CreateOrGetApIface(ctx context.Context) (*wlan.InterfaceSlot, error) {
	return nil, nil
}

func (f *fakePhy) DestroyApIface(ctx context.Context, ifaceID uint16) error {
	return nil
}

func (f *fakePhy) HasWpa3Client() bool {
	return false
}
