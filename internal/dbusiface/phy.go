package dbusiface

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/openwlan/wlanpolicyd/internal/wlan"
)

// phy.go implements wlan.PhyManager against the root fi.w1.wpa_supplicant1
// object, grounded on the IWD reference client's findDevice/refreshState
// pattern: interfaces are discovered through the standard D-Bus
// ObjectManager (GetManagedObjects) rather than a bespoke enumeration
// call, and InterfacesAdded/InterfacesRemoved signals drive hotplug.

// PhyManager adapts the wpa_supplicant root object into wlan.PhyManager.
// IfaceIDs are assigned locally (the D-Bus API identifies interfaces by
// object path, not by the small integer ID the rest of this module uses)
// and are stable for the lifetime of one PhyManager instance. IDs start
// at 1, so 0 never names an interface.
type PhyManager struct {
	conn   *Conn
	root   dbus.BusObject
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint16
	byID   map[uint16]*phySlot
	byPath map[dbus.ObjectPath]uint16
	events chan wlan.InterfaceEvent

	watchCtx    context.Context
	watchCancel context.CancelFunc
}

type phySlot struct {
	slot wlan.InterfaceSlot
	path dbus.ObjectPath
	sme  *SME
}

// NewPhyManager constructs a PhyManager bound to conn's PhyBusName and
// starts watching for interface add/remove notifications.
func NewPhyManager(conn *Conn, logger *slog.Logger) *PhyManager {
	watchCtx, cancel := context.WithCancel(context.Background())
	p := &PhyManager{
		conn:        conn,
		root:        conn.bus.Object(conn.cfg.PhyBusName, objManagerPath),
		logger:      logger.With(slog.String("component", "dbusiface.phy")),
		nextID:      1,
		byID:        make(map[uint16]*phySlot),
		byPath:      make(map[dbus.ObjectPath]uint16),
		events:      make(chan wlan.InterfaceEvent, 16),
		watchCtx:    watchCtx,
		watchCancel: cancel,
	}
	if err := conn.addMatch(fmt.Sprintf(
		"type='signal',sender='%s',interface='org.freedesktop.DBus.ObjectManager'", conn.cfg.PhyBusName)); err != nil {
		p.logger.Warn("failed to subscribe to interface lifecycle signals", slog.String("err", err.Error()))
	}
	go p.watch()
	return p
}

// CreateAllClientInterfaces enumerates every interface object the service
// currently manages via GetManagedObjects and registers a client slot +
// SME for each one not already known.
func (p *PhyManager) CreateAllClientInterfaces(ctx context.Context) ([]wlan.InterfaceSlot, error) {
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := p.root.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&managed); err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []wlan.InterfaceSlot
	for path, ifaces := range managed {
		props, ok := ifaces[ifaceIface]
		if !ok {
			continue
		}
		if _, known := p.byPath[path]; known {
			continue
		}
		ifName, _ := propertyValue[string](props, "Ifname")
		slot := p.registerLocked(path, ifName)
		out = append(out, slot)
	}
	return out, nil
}

func (p *PhyManager) registerLocked(path dbus.ObjectPath, ifName string) wlan.InterfaceSlot {
	id := p.nextID
	p.nextID++

	slot := wlan.InterfaceSlot{
		IfaceID: id,
		IfName:  ifName,
		Role:    wlan.InterfaceRoleClient,
	}
	p.byID[id] = &phySlot{
		slot: slot,
		path: path,
		sme:  NewSME(p.conn, path, p.logger),
	}
	p.byPath[path] = id
	return slot
}

// DestroyClientInterface drops local bookkeeping for the interface. The
// underlying wpa_supplicant interface object is left to the service's own
// lifecycle (driven by the kernel device disappearing); this mirrors how
// the reference IWD client treats device removal as reactive, not
// something a client proactively commands under normal operation.
func (p *PhyManager) DestroyClientInterface(ctx context.Context, ifaceID uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.byID[ifaceID]
	if !ok {
		return wlan.ErrInterfaceNotFound
	}
	delete(p.byID, ifaceID)
	delete(p.byPath, s.path)
	return nil
}

// SetCountry sets the service-wide regulatory domain via the root
// object's Country property.
func (p *PhyManager) SetCountry(ctx context.Context, alpha2 string) error {
	call := p.root.Call(propsIface+".Set", 0, rootIface, "Country", dbus.MakeVariant(alpha2))
	if call.Err != nil {
		return classifyDBusError(call.Err)
	}
	return nil
}

// SMEFor returns the SMETransport bound to ifaceID.
func (p *PhyManager) SMEFor(ifaceID uint16) (wlan.SMETransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.byID[ifaceID]
	if !ok {
		return nil, wlan.ErrInterfaceNotFound
	}
	return s.sme, nil
}

// Events returns the channel of interface add/remove notifications
// originated by InterfacesAdded/InterfacesRemoved signals.
func (p *PhyManager) Events() <-chan wlan.InterfaceEvent {
	return p.events
}

// CreateOrGetApIface returns the already-running AP interface if this
// PhyManager has one, otherwise asks the service to create one via
// CreateInterface, the same root-object RPC CreateAllClientInterfaces'
// discovery loop assumes interfaces arrive through.
func (p *PhyManager) CreateOrGetApIface(ctx context.Context) (*wlan.InterfaceSlot, error) {
	p.mu.Lock()
	for _, s := range p.byID {
		if s.slot.Role == wlan.InterfaceRoleAP {
			slot := s.slot
			p.mu.Unlock()
			return &slot, nil
		}
	}
	p.mu.Unlock()

	args := map[string]dbus.Variant{
		"Driver": dbus.MakeVariant("nl80211"),
	}
	var path dbus.ObjectPath
	call := p.root.Call(rootIface+".CreateInterface", 0, args)
	if call.Err != nil {
		return nil, fmt.Errorf("create ap interface: %w", classifyDBusError(call.Err))
	}
	if err := call.Store(&path); err != nil {
		return nil, fmt.Errorf("decode created ap interface path: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if id, known := p.byPath[path]; known {
		slot := p.byID[id].slot
		return &slot, nil
	}
	id := p.nextID
	p.nextID++
	slot := wlan.InterfaceSlot{IfaceID: id, IfName: string(path), Role: wlan.InterfaceRoleAP}
	p.byID[id] = &phySlot{slot: slot, path: path, sme: NewSME(p.conn, path, p.logger)}
	p.byPath[path] = id
	return &slot, nil
}

// DestroyApIface tears down the AP interface identified by ifaceID via
// RemoveInterface and drops local bookkeeping.
func (p *PhyManager) DestroyApIface(ctx context.Context, ifaceID uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.byID[ifaceID]
	if !ok || s.slot.Role != wlan.InterfaceRoleAP {
		return wlan.ErrApNotFound
	}
	if call := p.root.Call(rootIface+".RemoveInterface", 0, s.path); call.Err != nil {
		return fmt.Errorf("remove ap interface: %w", classifyDBusError(call.Err))
	}
	delete(p.byID, ifaceID)
	delete(p.byPath, s.path)
	return nil
}

// HasWpa3Client reports whether any currently registered client
// interface's Capabilities.KeyMgmt advertises SAE (WPA3).
func (p *PhyManager) HasWpa3Client() bool {
	p.mu.Lock()
	paths := make([]dbus.ObjectPath, 0, len(p.byID))
	for _, s := range p.byID {
		if s.slot.Role == wlan.InterfaceRoleClient {
			paths = append(paths, s.path)
		}
	}
	p.mu.Unlock()

	for _, path := range paths {
		obj := p.conn.bus.Object(p.conn.cfg.PhyBusName, path)
		var props map[string]dbus.Variant
		if err := obj.Call(propsIface+".GetAll", 0, ifaceIface).Store(&props); err != nil {
			continue
		}
		caps, ok := propertyValue[map[string]dbus.Variant](props, "Capabilities")
		if !ok {
			continue
		}
		keyMgmt, ok := propertyValue[[]string](caps, "KeyMgmt")
		if !ok {
			continue
		}
		for _, km := range keyMgmt {
			if strings.Contains(strings.ToUpper(km), "SAE") {
				return true
			}
		}
	}
	return false
}

// Close stops the background watcher goroutine and closes the events
// channel. Safe to call once, after the caller is done with this
// PhyManager.
func (p *PhyManager) Close() {
	p.watchCancel()
}

// watch drains ObjectManager signals for the service-wide object path and
// translates InterfacesAdded/InterfacesRemoved into wlan.InterfaceEvent.
func (p *PhyManager) watch() {
	sigCh := p.conn.signalsFor(objManagerPath)
	defer close(p.events)
	for {
		select {
		case <-p.watchCtx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			switch sig.Name {
			case "org.freedesktop.DBus.ObjectManager.InterfacesAdded":
				p.handleInterfacesAdded(sig.Body)
			case "org.freedesktop.DBus.ObjectManager.InterfacesRemoved":
				p.handleInterfacesRemoved(sig.Body)
			}
		}
	}
}

func (p *PhyManager) handleInterfacesAdded(body []interface{}) {
	if len(body) < 2 {
		return
	}
	path, ok := body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	props, ok := ifaces[ifaceIface]
	if !ok {
		return
	}

	p.mu.Lock()
	if _, known := p.byPath[path]; known {
		p.mu.Unlock()
		return
	}
	ifName, _ := propertyValue[string](props, "Ifname")
	slot := p.registerLocked(path, ifName)
	p.mu.Unlock()

	p.emit(wlan.InterfaceEvent{IfaceID: slot.IfaceID, IfName: slot.IfName, Role: slot.Role, Added: true})
}

func (p *PhyManager) handleInterfacesRemoved(body []interface{}) {
	if len(body) < 2 {
		return
	}
	path, ok := body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	removedIfaces, ok := body[1].([]string)
	if !ok || !containsString(removedIfaces, ifaceIface) {
		return
	}

	p.mu.Lock()
	id, known := p.byPath[path]
	var slot wlan.InterfaceSlot
	if known {
		slot = p.byID[id].slot
		delete(p.byID, id)
		delete(p.byPath, path)
	}
	p.mu.Unlock()

	if known {
		p.emit(wlan.InterfaceEvent{IfaceID: slot.IfaceID, IfName: slot.IfName, Role: slot.Role, Added: false})
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (p *PhyManager) emit(ev wlan.InterfaceEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("dropped interface event, channel full", slog.String("iface", ev.IfName))
	}
}
