package mmap

import (
	"testing"
)

func TestMapAnon(t *testing.T) {
	t.Run("read write", func(t *testing.T) {
		m, err := MapAnon(4096)
		if err != nil {
			t.Fatalf("map: %v", err)
		}
		defer m.Close()

		if m.Size() != 4096 {
			t.Errorf("expected size 4096, got %d", m.Size())
		}

		b := m.Bytes()
		for i, v := range b {
			if v != 0 {
				t.Fatalf("byte %d not demand-zeroed: %d", i, v)
			}
		}

		b[0] = 0xFF
		b[4095] = 0x01
		if m.Bytes()[0] != 0xFF || m.Bytes()[4095] != 0x01 {
			t.Error("writes not visible through the mapping")
		}
	})

	t.Run("invalid size", func(t *testing.T) {
		if _, err := MapAnon(0); err == nil {
			t.Error("expected error for zero size")
		}
		if _, err := MapAnon(-1); err == nil {
			t.Error("expected error for negative size")
		}
	})

	t.Run("close idempotent", func(t *testing.T) {
		m, err := MapAnon(4096)
		if err != nil {
			t.Fatalf("map: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Errorf("second close: %v", err)
		}
	})

	t.Run("advise", func(t *testing.T) {
		m, err := MapAnon(1 << 16)
		if err != nil {
			t.Fatalf("map: %v", err)
		}
		defer m.Close()

		for _, p := range []AccessPattern{AccessDefault, AccessRandom, AccessSequential} {
			if err := m.Advise(p); err != nil {
				t.Errorf("advise %v: %v", p, err)
			}
		}
	})
}
