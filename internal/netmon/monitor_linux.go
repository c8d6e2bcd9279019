//go:build linux

package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// LinuxMonitor — NETLINK_ROUTE based interface monitor
// -------------------------------------------------------------------------

// LinuxMonitor subscribes to RTM_NEWLINK / RTM_DELLINK notifications on
// NETLINK_ROUTE's RTMGRP_LINK multicast group, the same kernel mechanism
// wpa_supplicant and NetworkManager use to detect interface hotplug.
type LinuxMonitor struct {
	fd     int
	events chan Event
	logger *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewLinuxMonitor opens a NETLINK_ROUTE socket and binds it to
// RTMGRP_LINK, so link notifications start queueing on the socket at
// construction; Run reads them.
func NewLinuxMonitor(logger *slog.Logger) (*LinuxMonitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("open netlink socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: unix.RTMGRP_LINK,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind netlink socket: %w", err)
	}

	return &LinuxMonitor{
		fd:     fd,
		events: make(chan Event, 16),
		logger: logger.With(slog.String("component", "netmon.linux")),
	}, nil
}

// Run reads RTM_NEWLINK/RTM_DELLINK messages until ctx is cancelled.
func (m *LinuxMonitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("netlink monitor: Run called more than once")
	}
	m.started = true
	m.mu.Unlock()

	defer close(m.events)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		unix.Close(m.fd)
		close(done)
	}()

	buf := make([]byte, 4096)
	for {
		n, _, err := unix.Recvfrom(m.fd, buf, 0)
		if err != nil {
			select {
			case <-done:
				m.logger.Info("netlink interface monitor stopped")
				return nil
			default:
				return fmt.Errorf("netlink recvfrom: %w", err)
			}
		}

		msgs, err := unix.ParseNetlinkMessage(buf[:n])
		if err != nil {
			m.logger.Warn("failed to parse netlink message", slog.String("err", err.Error()))
			continue
		}

		for _, msg := range msgs {
			ev, ok := parseLinkMessage(msg)
			if !ok {
				continue
			}
			select {
			case m.events <- ev:
			default:
				m.logger.Warn("interface event dropped, channel full",
					slog.String("iface", ev.IfName))
			}
		}
	}
}

// Events returns the channel of interface state changes.
func (m *LinuxMonitor) Events() <-chan Event {
	return m.events
}

// Close releases the underlying netlink socket.
func (m *LinuxMonitor) Close() error {
	return unix.Close(m.fd)
}

// parseLinkMessage decodes an RTM_NEWLINK/RTM_DELLINK message's ifinfomsg
// header and IFLA_IFNAME attribute into an Event.
func parseLinkMessage(msg unix.NetlinkMessage) (Event, bool) {
	if msg.Header.Type != unix.RTM_NEWLINK && msg.Header.Type != unix.RTM_DELLINK {
		return Event{}, false
	}
	if len(msg.Data) < unix.SizeofIfInfomsg {
		return Event{}, false
	}

	ifim := (*unix.IfInfomsg)(unsafe.Pointer(&msg.Data[0]))
	ev := Event{
		IfIndex: int(ifim.Index),
		Up:      ifim.Flags&unix.IFF_UP != 0 && ifim.Flags&unix.IFF_RUNNING != 0,
		Removed: msg.Header.Type == unix.RTM_DELLINK,
	}

	attrs, err := unix.ParseNetlinkRouteAttr(&msg)
	if err == nil {
		for _, attr := range attrs {
			if attr.Attr.Type == unix.IFLA_IFNAME {
				ev.IfName = nullTerminatedString(attr.Value)
			}
		}
	}

	return ev, true
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
