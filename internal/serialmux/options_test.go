package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptionsNormalizeDefaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if opts.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", opts.BaudRate)
	}
	if opts.DataBits != 8 || opts.StopBits != 1 || opts.Parity != "N" {
		t.Errorf("unexpected defaults: %+v", opts)
	}
}

func TestPortOptionsNormalizeRejectsBadValues(t *testing.T) {
	cases := []PortOptions{
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "M"},
	}
	for _, c := range cases {
		if _, err := c.Normalize(); err == nil {
			t.Errorf("Normalize(%+v) succeeded, want error", c)
		}
	}
}

func TestPortOptionsParityAliases(t *testing.T) {
	for _, alias := range []string{"even", "EVEN", "e", "E"} {
		opts, err := PortOptions{Parity: alias}.Normalize()
		if err != nil {
			t.Fatalf("Normalize(%q) failed: %v", alias, err)
		}
		if opts.Parity != "E" {
			t.Errorf("Parity for %q = %q, want E", alias, opts.Parity)
		}
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "O"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode failed: %v", err)
	}
	if mode.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", mode.BaudRate)
	}
	if mode.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v, want TwoStopBits", mode.StopBits)
	}
	if mode.Parity != serial.OddParity {
		t.Errorf("Parity = %v, want OddParity", mode.Parity)
	}
}

func TestPortOptionsEqual(t *testing.T) {
	a := PortOptions{}
	b := PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "NONE"}
	if !a.Equal(b) {
		t.Error("expected normalized options to compare equal")
	}
	c := PortOptions{BaudRate: 9600}
	if a.Equal(c) {
		t.Error("expected differing baud rates to compare unequal")
	}
}
