//go:build !linux

package ploop

import "os"

// writableBAT is a degraded, non-mmapped stand-in for platforms without
// unix mmap support: it keeps the BAT region buffered in memory and
// flushes it with ordinary positional writes plus os.File.Sync. This
// fallback exists only so the module builds elsewhere, and does not
// provide the same crash-window guarantees as the mmapped version.
type writableBAT struct {
	file        *os.File
	data        []byte
	batClusters uint32
	clusterSize uint32
}

func mmapBAT(f *os.File, batClusters, clusterSize uint32) (*writableBAT, error) {
	length := int(batClusters) * int(clusterSize)
	data := make([]byte, length)
	if _, err := f.ReadAt(data, 0); err != nil {
		return nil, err
	}
	return &writableBAT{file: f, data: data, batClusters: batClusters, clusterSize: clusterSize}, nil
}

func (w *writableBAT) entry(i uint32) uint32 {
	off := (headerWords + i) * 4
	return littleEndianUint32(w.data[off:])
}

func (w *writableBAT) setEntry(i uint32, alloc uint32) {
	off := (headerWords + i) * 4
	putLittleEndianUint32(w.data[off:], alloc)
	_, _ = w.file.WriteAt(w.data[off:off+4], int64(off))
}

func (w *writableBAT) msyncBAT() error {
	if _, err := w.file.WriteAt(w.data, 0); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *writableBAT) msyncHeaderPage() error {
	n := PageSize
	if n > len(w.data) {
		n = len(w.data)
	}
	if _, err := w.file.WriteAt(w.data[:n], 0); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *writableBAT) setDiskInUse(inUse bool) error {
	var v uint32
	if inUse {
		v = diskInUseMarker
	}
	putLittleEndianUint32(w.data[36:40], v)
	return w.msyncHeaderPage()
}

func (w *writableBAT) close() error {
	w.data = nil
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
