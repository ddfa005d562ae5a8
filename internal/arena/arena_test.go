package arena

import (
	"bytes"
	"testing"

	"github.com/hupe1980/arengo/internal/handletable"
)

func newTestArena(t *testing.T, opts ...Option) (*handletable.Table, *Arena) {
	t.Helper()
	tbl := handletable.New(0)
	a, err := New(tbl, nil, opts...)
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	return tbl, a
}

func TestArena_New(t *testing.T) {
	t.Run("default block size", func(t *testing.T) {
		_, a := newTestArena(t)
		defer a.Destroy()

		if a.blockSize != DefaultBlockSize {
			t.Errorf("expected blockSize=%d, got %d", DefaultBlockSize, a.blockSize)
		}
		if a.current.Load() == nil {
			t.Error("current block should not be nil")
		}
	})

	t.Run("child inherits block size", func(t *testing.T) {
		tbl, parent := newTestArena(t, WithBlockSize(4096))
		defer parent.Destroy()

		child, err := New(tbl, parent)
		if err != nil {
			t.Fatalf("new child: %v", err)
		}
		if child.blockSize != 4096 {
			t.Errorf("expected inherited blockSize=4096, got %d", child.blockSize)
		}
	})

	t.Run("child of destroyed parent is fatal", func(t *testing.T) {
		tbl, parent := newTestArena(t)
		parent.Destroy()

		defer func() {
			if recover() == nil {
				t.Error("expected panic creating child of destroyed arena")
			}
		}()
		New(tbl, parent) //nolint:errcheck
	})
}

func TestArena_Alloc(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		_, a := newTestArena(t, WithBlockSize(4096))
		defer a.Destroy()

		h, err := a.Alloc(64)
		if err != nil {
			t.Fatalf("alloc: %v", err)
		}

		buf := a.Pin(h)
		if len(buf) != 64 {
			t.Fatalf("expected 64 bytes, got %d", len(buf))
		}
		for i, b := range buf {
			if b != 0 {
				t.Fatalf("byte %d not zero-initialized: %d", i, b)
			}
		}
		copy(buf, []byte("hello"))
		a.Unpin(h)

		again := a.Pin(h)
		if !bytes.Equal(again[:5], []byte("hello")) {
			t.Error("data did not survive unpin/pin")
		}
		a.Unpin(h)
	})

	t.Run("invalid size", func(t *testing.T) {
		_, a := newTestArena(t)
		defer a.Destroy()

		if _, err := a.Alloc(0); err == nil {
			t.Error("expected error for zero size")
		}
		if _, err := a.Alloc(-1); err == nil {
			t.Error("expected error for negative size")
		}
	})

	t.Run("grows blocks", func(t *testing.T) {
		_, a := newTestArena(t, WithBlockSize(1024))
		defer a.Destroy()

		for i := 0; i < 10; i++ {
			if _, err := a.Alloc(512); err != nil {
				t.Fatalf("alloc %d: %v", i, err)
			}
		}
		if s := a.Stats(); s.BlocksAllocated < 5 {
			t.Errorf("expected block growth, got %d blocks", s.BlocksAllocated)
		}
	})

	t.Run("oversize allocation gets dedicated block", func(t *testing.T) {
		_, a := newTestArena(t, WithBlockSize(1024))
		defer a.Destroy()

		h, err := a.Alloc(10_000)
		if err != nil {
			t.Fatalf("oversize alloc: %v", err)
		}
		buf := a.Pin(h)
		if len(buf) != 10_000 {
			t.Errorf("expected 10000 bytes, got %d", len(buf))
		}
		a.Unpin(h)
	})
}

func TestArena_Promote(t *testing.T) {
	t.Run("to parent preserves data", func(t *testing.T) {
		tbl, parent := newTestArena(t, WithBlockSize(4096))
		defer parent.Destroy()

		child, err := New(tbl, parent)
		if err != nil {
			t.Fatalf("new child: %v", err)
		}

		h, _ := child.Alloc(32)
		buf := child.Pin(h)
		copy(buf, []byte("payload"))
		child.Unpin(h)

		nh, err := child.Promote(parent, h)
		if err != nil {
			t.Fatalf("promote: %v", err)
		}

		got := parent.Pin(nh)
		if !bytes.Equal(got[:7], []byte("payload")) {
			t.Error("promoted data does not match source")
		}
		parent.Unpin(nh)

		// The promoted value must outlive the child.
		child.Destroy()
		got = parent.Pin(nh)
		if !bytes.Equal(got[:7], []byte("payload")) {
			t.Error("promoted data lost after child destroy")
		}
		parent.Unpin(nh)
	})

	t.Run("source handle becomes dead", func(t *testing.T) {
		tbl, parent := newTestArena(t)
		defer parent.Destroy()
		child, _ := New(tbl, parent)
		defer child.Destroy()

		h, _ := child.Alloc(16)
		if _, err := child.Promote(parent, h); err != nil {
			t.Fatalf("promote: %v", err)
		}

		defer func() {
			if recover() == nil {
				t.Error("expected panic pinning promoted-away handle")
			}
		}()
		child.Pin(h)
	})

	t.Run("multi level is a single direct copy", func(t *testing.T) {
		tbl, root := newTestArena(t)
		defer root.Destroy()
		mid, _ := New(tbl, root)
		leaf, _ := New(tbl, mid)

		h, _ := leaf.Alloc(16)
		buf := leaf.Pin(h)
		buf[0] = 0x7F
		leaf.Unpin(h)

		nh, err := leaf.Promote(root, h)
		if err != nil {
			t.Fatalf("promote to grandparent: %v", err)
		}

		mid.Destroy()
		got := root.Pin(nh)
		if got[0] != 0x7F {
			t.Error("value must live in the destination, not an intermediate arena")
		}
		root.Unpin(nh)
	})

	t.Run("sibling destination rejected", func(t *testing.T) {
		tbl, root := newTestArena(t)
		defer root.Destroy()
		a, _ := New(tbl, root)
		b, _ := New(tbl, root)

		h, _ := a.Alloc(16)
		if _, err := a.Promote(b, h); err == nil {
			t.Error("expected error promoting to a sibling")
		}
	})

	t.Run("descendant destination rejected", func(t *testing.T) {
		tbl, root := newTestArena(t)
		defer root.Destroy()
		child, _ := New(tbl, root)

		h, _ := root.Alloc(16)
		if _, err := root.Promote(child, h); err == nil {
			t.Error("expected error promoting downward")
		}
	})
}

func TestArena_Destroy(t *testing.T) {
	t.Run("handles invalidated immediately", func(t *testing.T) {
		_, a := newTestArena(t)
		h, _ := a.Alloc(16)

		a.Destroy()

		defer func() {
			if recover() == nil {
				t.Error("expected panic pinning handle of destroyed arena")
			}
		}()
		a.table.Peek(h.Slot).Pin()
	})

	t.Run("children destroyed recursively", func(t *testing.T) {
		tbl, root := newTestArena(t)
		child, _ := New(tbl, root)
		grandchild, _ := New(tbl, child)

		root.Destroy()

		if !child.Destroyed() || !grandchild.Destroyed() {
			t.Error("descendants must be destroyed with their root")
		}
	})

	t.Run("double destroy is fatal", func(t *testing.T) {
		_, a := newTestArena(t)
		a.Destroy()

		defer func() {
			if recover() == nil {
				t.Error("expected panic on double destroy")
			}
		}()
		a.Destroy()
	})

	t.Run("alloc after destroy is fatal", func(t *testing.T) {
		_, a := newTestArena(t)
		a.Destroy()

		defer func() {
			if recover() == nil {
				t.Error("expected panic allocating from destroyed arena")
			}
		}()
		a.Alloc(16) //nolint:errcheck
	})
}

func TestArena_DrainDeadSlots(t *testing.T) {
	tbl, parent := newTestArena(t)
	defer parent.Destroy()
	child, _ := New(tbl, parent)
	defer child.Destroy()

	h, _ := child.Alloc(16)
	child.Promote(parent, h) //nolint:errcheck

	slots := child.DrainDeadSlots()
	if len(slots) != 1 || slots[0] != h.Slot {
		t.Fatalf("expected dead slot %d, got %v", h.Slot, slots)
	}
	if len(child.DrainDeadSlots()) != 0 {
		t.Error("drain must hand each slot out once")
	}
}
