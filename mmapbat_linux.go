//go:build linux

package ploop

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// writableBAT is the top delta's Block Allocation Table, mapped shared
// into memory for direct 32-bit word updates. Its lifetime is scoped to
// the delta's file handle: it must be unmapped before the handle can be
// closed, on every exit path including error.
type writableBAT struct {
	data []byte // length batClusters * clusterSize
}

// mmapBAT maps the first batClusters*clusterSize bytes of f shared,
// read-write.
func mmapBAT(f *os.File, batClusters, clusterSize uint32) (*writableBAT, error) {
	length := int(batClusters) * int(clusterSize)
	data, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ploop: mmap BAT: %w", err)
	}
	return &writableBAT{data: data}, nil
}

// entry reads BAT entry i (logical cluster i), skipping the header-overlap
// reservation in the first cluster.
func (w *writableBAT) entry(i uint32) uint32 {
	off := (headerWords + i) * 4
	return littleEndianUint32(w.data[off:])
}

// setEntry writes alloc into BAT entry i. The caller is responsible for
// verifying the prior value was zero before calling this — a non-zero
// prior value means the cluster was already owned by the top level and
// indicates a corrupt BAT.
func (w *writableBAT) setEntry(i uint32, alloc uint32) {
	off := (headerWords + i) * 4
	putLittleEndianUint32(w.data[off:], alloc)
}

// msyncBAT flushes the entire mapped BAT region to disk synchronously.
func (w *writableBAT) msyncBAT() error {
	if len(w.data) == 0 {
		return nil
	}
	return unix.Msync(w.data, unix.MS_SYNC)
}

// msyncHeaderPage flushes only the first PageSize bytes (the header) to
// disk synchronously — the dirty-flag transition only needs this much,
// matching the original C source's mark_in_use(), which only msyncs
// PAGE_SIZE.
func (w *writableBAT) msyncHeaderPage() error {
	if len(w.data) < PageSize {
		return unix.Msync(w.data, unix.MS_SYNC)
	}
	return unix.Msync(w.data[:PageSize], unix.MS_SYNC)
}

// setDiskInUse stamps m_DiskInUse in the mapped header region and
// synchronously flushes just that page.
func (w *writableBAT) setDiskInUse(inUse bool) error {
	var v uint32
	if inUse {
		v = diskInUseMarker
	}
	putLittleEndianUint32(w.data[36:40], v)
	return w.msyncHeaderPage()
}

// close unmaps the BAT region. Safe to call once; the caller must not use
// the writableBAT afterwards.
func (w *writableBAT) close() error {
	if w.data == nil {
		return nil
	}
	data := w.data
	w.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("ploop: munmap BAT: %w", err)
	}
	return nil
}

func littleEndianUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLittleEndianUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
