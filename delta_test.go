package ploop

import (
	"errors"
	"testing"
)

func TestOpenDeltaFileReadsHeader(t *testing.T) {
	path := buildDelta(t, "base.img", 4096, 4, 1, 4, map[uint32]uint32{0: 1}, map[uint32]byte{1: 0xAB})

	d, _, logicalClusters, err := openDeltaFile(path, 0, false, false)
	if err != nil {
		t.Fatalf("openDeltaFile: %v", err)
	}
	defer d.close()

	if d.clusterSize != 4096 {
		t.Fatalf("clusterSize = %d, want 4096", d.clusterSize)
	}
	if d.batClusters != 1 {
		t.Fatalf("batClusters = %d, want 1", d.batClusters)
	}
	if logicalClusters != 4 {
		t.Fatalf("logicalClusters = %d, want 4", logicalClusters)
	}
	if d.allocSize != 4 {
		t.Fatalf("allocSize = %d, want 4", d.allocSize)
	}
}

func TestReadBATValidEntries(t *testing.T) {
	path := buildDelta(t, "base.img", 4096, 4, 1, 4, map[uint32]uint32{0: 1, 2: 3}, nil)
	d, _, logicalClusters, err := openDeltaFile(path, 0, false, false)
	if err != nil {
		t.Fatalf("openDeltaFile: %v", err)
	}
	defer d.close()

	m := newMapping(logicalClusters)
	if err := d.readBAT(m, logicalClusters); err != nil {
		t.Fatalf("readBAT: %v", err)
	}

	if lvl, block := m.lookup(0); lvl != 0 || block != 1 {
		t.Fatalf("lookup(0) = (%d, %d), want (0, 1)", lvl, block)
	}
	if lvl, block := m.lookup(1); block != 0 {
		t.Fatalf("lookup(1) = (%d, %d), want block 0", lvl, block)
	}
	if lvl, block := m.lookup(2); lvl != 0 || block != 3 {
		t.Fatalf("lookup(2) = (%d, %d), want (0, 3)", lvl, block)
	}
}

func TestReadBATRejectsEntryBeforeData(t *testing.T) {
	// batClusters=1, so any entry < 1 (i.e. 0) would be "before data" --
	// but 0 is reserved for "unallocated". Use batClusters=2 and point an
	// entry at physical cluster 1, which lies inside the two-cluster BAT
	// region itself.
	path := buildDelta(t, "base.img", 4096, 4, 2, 4, map[uint32]uint32{0: 1}, nil)
	d, _, logicalClusters, err := openDeltaFile(path, 0, false, false)
	if err != nil {
		t.Fatalf("openDeltaFile: %v", err)
	}
	defer d.close()

	m := newMapping(logicalClusters)
	err = d.readBAT(m, logicalClusters)
	if !errors.Is(err, ErrBATBeforeData) {
		t.Fatalf("readBAT error = %v, want ErrBATBeforeData", err)
	}
}

func TestReadBATRejectsEntryPastEOF(t *testing.T) {
	path := buildDelta(t, "base.img", 4096, 4, 1, 4, map[uint32]uint32{0: 10}, nil)
	d, _, logicalClusters, err := openDeltaFile(path, 0, false, false)
	if err != nil {
		t.Fatalf("openDeltaFile: %v", err)
	}
	defer d.close()

	m := newMapping(logicalClusters)
	err = d.readBAT(m, logicalClusters)
	if !errors.Is(err, ErrBATPastEOF) {
		t.Fatalf("readBAT error = %v, want ErrBATPastEOF", err)
	}
}

func TestReadBATRejectsEntryBeyondDevice(t *testing.T) {
	// The BAT itself holds entries for indices [0,4), all structurally
	// valid; to trigger "beyond device" we pass readBAT a logicalClusters
	// below the index of a non-zero entry, as Open does when a delta's BAT
	// holds an entry past the logical size its own header declares.
	path := buildDelta(t, "base.img", 4096, 4, 1, 4, map[uint32]uint32{3: 2}, nil)
	d, _, _, err := openDeltaFile(path, 0, false, false)
	if err != nil {
		t.Fatalf("openDeltaFile: %v", err)
	}
	defer d.close()

	m := newMapping(2)
	err = d.readBAT(m, 2)
	if !errors.Is(err, ErrBATBeyondDevice) {
		t.Fatalf("readBAT error = %v, want ErrBATBeyondDevice", err)
	}
}
