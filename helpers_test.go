package ploop

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildDelta writes a minimal, internally-consistent synthetic delta file
// to a temp directory and returns its path. batClusters must be large
// enough to hold headerWords + logicalClusters entries. allocClusters is
// the total file size in clusters (must be >= batClusters and >= every
// value in entries, plus one). entries maps a logical cluster index to
// the physical cluster it should resolve to; fill[physical] supplies the
// byte each cluster's content is filled with, for clusters the test wants
// to read back and recognize.
func buildDelta(t *testing.T, name string, clusterSize, logicalClusters, batClusters, allocClusters uint32, entries map[uint32]uint32, fill map[uint32]byte) string {
	t.Helper()

	sectors := clusterSize / SectorSize

	h := &pvdHeader{
		Sig:              signatureV2,
		Type:             ImageTypeCompressed,
		Sectors:          sectors,
		FirstBlockOffset: batClusters * sectors,
		SizeInSectorsV2:  uint64(logicalClusters) * uint64(sectors),
	}

	buf := make([]byte, uint64(allocClusters)*uint64(clusterSize))
	h.encode(buf[:HeaderSize])

	entriesPerCluster := clusterSize / 4
	idx := uint32(0)
	for b := uint32(0); b < batClusters; b++ {
		base := b * clusterSize
		i0 := uint32(0)
		if b == 0 {
			i0 = headerWords
		}
		for i := i0; i < entriesPerCluster && idx < logicalClusters; i, idx = i+1, idx+1 {
			if p, ok := entries[idx]; ok {
				binary.LittleEndian.PutUint32(buf[base+i*4:], p)
			}
		}
	}

	for phys, b := range fill {
		start := uint64(phys) * uint64(clusterSize)
		for i := uint64(0); i < uint64(clusterSize); i++ {
			buf[start+i] = b
		}
	}

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("writing synthetic delta %s: %v", name, err)
	}
	return path
}
