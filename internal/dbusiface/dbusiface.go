package dbusiface

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// D-Bus names for the wpa_supplicant-style SME/PhyManager service this
// package talks to. The interface/method names mirror the real
// fi.w1.wpa_supplicant1 API; the bus names themselves are configurable
// (internal/config.DBusConfig) so a test harness can point at a private
// bus without colliding with a real supplicant.
const (
	rootIface      = "fi.w1.wpa_supplicant1"
	ifaceIface     = "fi.w1.wpa_supplicant1.Interface"
	networkIface   = "fi.w1.wpa_supplicant1.Network"
	bssIface       = "fi.w1.wpa_supplicant1.BSS"
	propsIface     = "org.freedesktop.DBus.Properties"
	objManagerPath = "/fi/w1/wpa_supplicant1"
)

// Config configures a connection to the SME/PhyManager D-Bus service.
type Config struct {
	// System selects the system bus when true, the session bus
	// otherwise. Production deployments always use the system bus.
	System bool

	// SMEBusName is the well-known bus name exporting the per-interface
	// scan/connect/disconnect surface (fi.w1.wpa_supplicant1.Interface).
	SMEBusName string

	// PhyBusName is the well-known bus name exporting interface
	// lifecycle and regulatory-domain operations. In a real
	// wpa_supplicant deployment this is the same process as SMEBusName;
	// kept separate here so a test double can serve only one surface.
	PhyBusName string
}

// Conn wraps a shared *dbus.Conn plus the bus names the rest of the
// package addresses calls to. One Conn backs every per-interface SME and
// the single PhyManager for a daemon process.
//
// Signal delivery follows the IWD reference client: a single raw channel
// is registered with the underlying connection, and a background
// dispatcher goroutine fans matched signals out to per-path subscriber
// channels. Every SME/PhyManager sharing this Conn rides the same
// dispatcher rather than each registering its own conn.Signal channel.
type Conn struct {
	bus    *dbus.Conn
	cfg    Config
	logger *slog.Logger

	dispatchOnce sync.Once
	rawSig       chan *dbus.Signal

	mu   sync.Mutex
	subs map[dbus.ObjectPath]chan *dbus.Signal
}

// Dial opens the configured bus (system or session) and returns a Conn
// ready to construct SME and PhyManager adapters from.
func Dial(cfg Config, logger *slog.Logger) (*Conn, error) {
	var (
		bus *dbus.Conn
		err error
	)
	if cfg.System {
		bus, err = dbus.SystemBus()
	} else {
		bus, err = dbus.SessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("connect to d-bus: %w", err)
	}
	return &Conn{
		bus:    bus,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "dbusiface")),
	}, nil
}

// Close releases the underlying bus connection. Every SME and PhyManager
// built from this Conn becomes unusable afterward.
func (c *Conn) Close() error {
	return c.bus.Close()
}

// addMatch registers a raw match rule with the bus, the same
// conn.BusObject().Call("org.freedesktop.DBus.AddMatch", ...) pattern the
// reference IWD client uses rather than the higher-level AddMatchSignal
// helper, so the exact rule string is visible at the call site.
func (c *Conn) addMatch(rule string) error {
	return c.bus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err
}

func (c *Conn) removeMatch(rule string) {
	_ = c.bus.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule).Err
}

// signalsFor returns the channel that will receive every signal whose Path
// matches the given object path, registering the shared dispatcher on
// first use. The returned channel is never closed by signalsFor; callers
// stop reading from it when they tear down the subscriber, but the
// channel itself lives for the lifetime of the Conn.
func (c *Conn) signalsFor(path dbus.ObjectPath) <-chan *dbus.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dispatchOnce.Do(func() {
		c.rawSig = make(chan *dbus.Signal, 64)
		c.bus.Signal(c.rawSig)
		go c.dispatchLoop()
	})

	if c.subs == nil {
		c.subs = make(map[dbus.ObjectPath]chan *dbus.Signal)
	}
	ch, ok := c.subs[path]
	if !ok {
		ch = make(chan *dbus.Signal, 16)
		c.subs[path] = ch
	}
	return ch
}

// dispatchLoop demultiplexes the shared raw signal channel by object path.
// A subscriber channel that is not being drained fast enough loses
// signals rather than stalling the rest of the connection.
func (c *Conn) dispatchLoop() {
	for sig := range c.rawSig {
		c.mu.Lock()
		ch, ok := c.subs[sig.Path]
		c.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- sig:
		default:
			c.logger.Warn("dropped d-bus signal, subscriber channel full",
				slog.String("path", string(sig.Path)), slog.String("signal", sig.Name))
		}
	}
}

func propertyValue[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	t, ok := v.Value().(T)
	return t, ok
}
