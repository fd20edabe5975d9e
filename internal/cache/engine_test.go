package cache

import (
	"testing"

	"github.com/s417-lama/ityr-go/internal/transport"
)

func TestFetchReadReturnsHomeBytes(t *testing.T) {
	cluster := transport.NewCluster(2)
	home := cluster[0]
	off, err := home.Register(64)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	payload := []byte("hello, itoyori")
	buf := make([]byte, 64)
	copy(buf, payload)
	if err := home.Put(0, off, buf); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reader := New(cluster[1], 64, 4)
	defer reader.Close()

	id := ID{AllocID: 1, Index: 0}
	b, err := reader.Fetch(id, 0, off, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(b.Data()[:len(payload)]) != string(payload) {
		t.Fatalf("Fetch data = %q, want %q", b.Data()[:len(payload)], payload)
	}
	if b.State() != Clean {
		t.Fatalf("State() = %v, want Clean", b.State())
	}
}

func TestFetchForWriteMarksDirtyWithoutNetworkRead(t *testing.T) {
	cluster := transport.NewCluster(1)
	e := New(cluster[0], 32, 4)
	defer e.Close()

	id := ID{AllocID: 1, Index: 0}
	b, err := e.Fetch(id, 0, 0, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if b.State() != Dirty {
		t.Fatalf("State() = %v, want Dirty", b.State())
	}
	if b.Dirty().IsClean() {
		t.Fatal("expected dirty bitmap to be fully marked after write-fetch")
	}
}

func TestWritebackClearsDirtyAndPersists(t *testing.T) {
	cluster := transport.NewCluster(2)
	home := cluster[0]
	off, err := home.Register(32)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	e := New(cluster[1], 32, 4)
	defer e.Close()

	id := ID{AllocID: 1, Index: 0}
	b, err := e.Fetch(id, 0, off, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	copy(b.Data(), []byte("written bytes!!!"))
	if err := e.Writeback(b); err != nil {
		t.Fatalf("Writeback: %v", err)
	}
	if b.State() != Clean {
		t.Fatalf("State() after writeback = %v, want Clean", b.State())
	}
	e.Poll()

	got, err := home.Get(0, off, 16)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "written bytes!!!" {
		t.Fatalf("home bytes = %q, want %q", got, "written bytes!!!")
	}
}

func TestResidencyNeverExceedsCapacity(t *testing.T) {
	cluster := transport.NewCluster(1)
	e := New(cluster[0], 16, 2)
	defer e.Close()

	for i := uint64(0); i < 5; i++ {
		id := ID{AllocID: 1, Index: i}
		if _, err := e.Fetch(id, 0, 0, true); err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
		if e.Residency() > e.Capacity() {
			t.Fatalf("Residency() = %d exceeds Capacity() = %d", e.Residency(), e.Capacity())
		}
	}
}

func TestPinnedBlockIsNeverEvicted(t *testing.T) {
	cluster := transport.NewCluster(1)
	e := New(cluster[0], 16, 2)
	defer e.Close()

	pinnedID := ID{AllocID: 1, Index: 0}
	pinned, err := e.Fetch(pinnedID, 0, 0, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	e.Pin(pinned)
	defer e.Unpin(pinned)

	if _, err := e.Fetch(ID{AllocID: 1, Index: 1}, 0, 0, true); err != nil {
		t.Fatalf("Fetch second block: %v", err)
	}
	// A third distinct block should be unable to evict the pinned one, so
	// eviction must target the second (unpinned) block instead, keeping
	// the pinned block resident.
	if _, err := e.Fetch(ID{AllocID: 1, Index: 2}, 0, 0, true); err != nil {
		t.Fatalf("Fetch third block: %v", err)
	}
	if pinned.State() == Invalid {
		t.Fatal("pinned block was evicted")
	}
}

func TestFetchFailsWhenAllResidentBlocksPinned(t *testing.T) {
	cluster := transport.NewCluster(1)
	e := New(cluster[0], 16, 1)
	defer e.Close()

	b, err := e.Fetch(ID{AllocID: 1, Index: 0}, 0, 0, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	e.Pin(b)
	defer e.Unpin(b)

	_, err = e.Fetch(ID{AllocID: 1, Index: 1}, 0, 0, true)
	if err != ErrCachePinned {
		t.Fatalf("err = %v, want ErrCachePinned", err)
	}
}

func TestInvalidateRejectsPinnedBlock(t *testing.T) {
	cluster := transport.NewCluster(1)
	off, err := cluster[0].Register(16)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	e := New(cluster[0], 16, 2)
	defer e.Close()

	b, err := e.Fetch(ID{AllocID: 1, Index: 0}, 0, off, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	e.Pin(b)
	defer e.Unpin(b)

	if err := e.Invalidate(b); err == nil {
		t.Fatal("expected error invalidating a pinned block")
	}
}
