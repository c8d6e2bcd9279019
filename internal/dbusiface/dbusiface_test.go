package dbusiface

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/openwlan/wlanpolicyd/internal/wlan"
)

func TestFreqToChannel(t *testing.T) {
	cases := []struct {
		freq uint16
		want uint16
	}{
		{2412, 1},
		{2437, 6},
		{2472, 13},
		{2484, 14},
		{5180, 36},
		{5885, 177},
		{5955, 1},
		{1000, 0},
	}
	for _, c := range cases {
		if got := freqToChannel(c.freq); got != c.want {
			t.Errorf("freqToChannel(%d) = %d, want %d", c.freq, got, c.want)
		}
	}
}

func TestSecurityFromWPA(t *testing.T) {
	cases := []struct {
		name  string
		props map[string]dbus.Variant
		want  wlan.SecurityType
	}{
		{
			name:  "open",
			props: map[string]dbus.Variant{},
			want:  wlan.SecurityOpen,
		},
		{
			name:  "wep",
			props: map[string]dbus.Variant{"Privacy": dbus.MakeVariant(uint16(1))},
			want:  wlan.SecurityWEP,
		},
		{
			name:  "wpa1",
			props: map[string]dbus.Variant{"WPA": dbus.MakeVariant(map[string]dbus.Variant{})},
			want:  wlan.SecurityWPA1,
		},
		{
			name: "wpa2-personal",
			props: map[string]dbus.Variant{
				"RSN": dbus.MakeVariant(map[string]dbus.Variant{
					"KeyMgmt": dbus.MakeVariant([]string{"wpa-psk"}),
				}),
			},
			want: wlan.SecurityWPA2Personal,
		},
		{
			name: "wpa3-personal",
			props: map[string]dbus.Variant{
				"RSN": dbus.MakeVariant(map[string]dbus.Variant{
					"KeyMgmt": dbus.MakeVariant([]string{"sae"}),
				}),
			},
			want: wlan.SecurityWPA3Personal,
		},
		{
			name: "wpa2-enterprise",
			props: map[string]dbus.Variant{
				"RSN": dbus.MakeVariant(map[string]dbus.Variant{
					"KeyMgmt": dbus.MakeVariant([]string{"wpa-eap"}),
				}),
			},
			want: wlan.SecurityWPA2Enterprise,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := securityFromWPA(c.props); got != c.want {
				t.Errorf("securityFromWPA() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestKeyMgmtFor(t *testing.T) {
	cases := []struct {
		sec  wlan.SecurityType
		want string
	}{
		{wlan.SecurityWPA2Personal, "WPA-PSK"},
		{wlan.SecurityWPA3Personal, "SAE"},
		{wlan.SecurityWPA2Enterprise, "WPA-EAP"},
		{wlan.SecurityWPA3Enterprise, "WPA-EAP"},
		{wlan.SecurityWEP, "NONE"},
	}
	for _, c := range cases {
		if got := keyMgmtFor(c.sec); got != c.want {
			t.Errorf("keyMgmtFor(%v) = %q, want %q", c.sec, got, c.want)
		}
	}
}

func TestPropertiesChangedMap(t *testing.T) {
	changed := map[string]dbus.Variant{"State": dbus.MakeVariant("completed")}
	body := []interface{}{ifaceIface, changed, []string{}}

	got, ok := propertiesChangedMap(body)
	if !ok {
		t.Fatal("expected ok=true")
	}
	state, ok := propertyValue[string](got, "State")
	if !ok || state != "completed" {
		t.Errorf("State = %q, %v, want completed, true", state, ok)
	}

	if _, ok := propertiesChangedMap([]interface{}{ifaceIface}); ok {
		t.Error("expected ok=false for short body")
	}
}

func TestSignalFromChanged(t *testing.T) {
	changed := map[string]dbus.Variant{
		"Signal": dbus.MakeVariant(int16(-55)),
		"SNR":    dbus.MakeVariant(int16(30)),
	}
	sig, ok := signalFromChanged(changed)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if sig.RSSIDBM != -55 || sig.SNRDB != 30 {
		t.Errorf("signal = %+v, want RSSI=-55 SNR=30", sig)
	}

	if _, ok := signalFromChanged(map[string]dbus.Variant{}); ok {
		t.Error("expected ok=false without a Signal key")
	}
}

func TestClassifyDBusError(t *testing.T) {
	busy := dbus.Error{Name: "fi.w1.wpa_supplicant1.Interface.InProgress"}
	if got := classifyDBusError(busy); !errors.Is(got, wlan.ErrSMEBusy) {
		t.Errorf("classifyDBusError(InProgress) = %v, want wrapping ErrSMEBusy", got)
	}

	gone := dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}
	if got := classifyDBusError(gone); !errors.Is(got, wlan.ErrSMEUnavailable) {
		t.Errorf("classifyDBusError(ServiceUnknown) = %v, want wrapping ErrSMEUnavailable", got)
	}

	other := errors.New("boom")
	if got := classifyDBusError(other); got == nil || errors.Is(got, wlan.ErrSMEBusy) || errors.Is(got, wlan.ErrSMEUnavailable) {
		t.Errorf("classifyDBusError(generic) = %v, want plain wrapped error", got)
	}

	if got := classifyDBusError(nil); got != nil {
		t.Errorf("classifyDBusError(nil) = %v, want nil", got)
	}
}

func TestClampInt(t *testing.T) {
	if got := clampInt(200, -128, 127); got != 127 {
		t.Errorf("clampInt(200) = %d, want 127", got)
	}
	if got := clampInt(-200, -128, 127); got != -128 {
		t.Errorf("clampInt(-200) = %d, want -128", got)
	}
	if got := clampInt(5, -128, 127); got != 5 {
		t.Errorf("clampInt(5) = %d, want 5", got)
	}
}

func TestScanTypeString(t *testing.T) {
	if got := scanTypeString(wlan.ScanActive); got != "active" {
		t.Errorf("scanTypeString(active) = %q, want active", got)
	}
	if got := scanTypeString(wlan.ScanPassive); got != "passive" {
		t.Errorf("scanTypeString(passive) = %q, want passive", got)
	}
}
