package ploop

import (
	"fmt"
	"os"
)

// delta is one opened delta file in a stack.
type delta struct {
	file        *os.File
	level       int
	writable    bool
	clusterSize uint32
	batClusters uint32 // B
	allocSize   uint32 // ceil(file_size / clusterSize)
}

// openDeltaFile opens path, validates its header, and computes the
// per-delta metrics needed by the caller to fold it into a stack. It does
// not yet read the BAT; that happens once the caller has decided the
// header is consistent with the rest of the stack (cluster size
// agreement).
func openDeltaFile(path string, level int, writable bool, directIO bool) (*delta, *pvdHeader, uint32, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR
	}
	if directIO {
		flags |= directIOFlag()
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("ploop: can't open %q: %w", path, err)
	}

	headerBuf := make([]byte, HeaderSize)
	n, err := f.ReadAt(headerBuf, 0)
	if err != nil || n != HeaderSize {
		f.Close()
		if err == nil {
			err = fmt.Errorf("short read of header: %d bytes", n)
		}
		return nil, nil, 0, fmt.Errorf("ploop: reading header of %q: %w", path, err)
	}

	h, err := parsePVDHeader(headerBuf)
	if err != nil {
		f.Close()
		return nil, nil, 0, err
	}
	if err := h.validate(); err != nil {
		f.Close()
		return nil, nil, 0, fmt.Errorf("ploop: %q: %w", path, err)
	}

	clusterSize := h.clusterSize()
	batClusters, err := h.batClusters()
	if err != nil {
		f.Close()
		return nil, nil, 0, fmt.Errorf("ploop: %q: %w", path, err)
	}
	logicalClusters, err := h.logicalClusters()
	if err != nil {
		f.Close()
		return nil, nil, 0, fmt.Errorf("ploop: %q: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, 0, fmt.Errorf("ploop: stat %q: %w", path, err)
	}
	allocSize := uint32((uint64(st.Size()) + uint64(clusterSize) - 1) / uint64(clusterSize))

	d := &delta{
		file:        f,
		level:       level,
		writable:    writable,
		clusterSize: clusterSize,
		batClusters: batClusters,
		allocSize:   allocSize,
	}

	return d, h, logicalClusters, nil
}

// readBAT reads this delta's B BAT clusters sequentially and folds every
// non-zero entry into m at this delta's level, validating each against
// the three BAT sanity checks: it must address a logical cluster inside
// the device, the physical cluster it names must lie within the file's
// current allocation, and it must not point back into the BAT region
// itself.
func (d *delta) readBAT(m *mapping, logicalClusters uint32) error {
	buf := make([]byte, d.clusterSize)
	entriesPerCluster := d.clusterSize / 4

	idx := uint32(0)
	for b := uint32(0); b < d.batClusters; b++ {
		n, err := d.file.ReadAt(buf, int64(b)*int64(d.clusterSize))
		if err != nil || uint32(n) != d.clusterSize {
			if err == nil {
				err = fmt.Errorf("short read: %d bytes", n)
			}
			return fmt.Errorf("ploop: reading BAT cluster %d: %w", b, err)
		}

		i0 := uint32(0)
		if b == 0 {
			i0 = headerWords
		}

		for i := i0; i < entriesPerCluster; i, idx = i+1, idx+1 {
			entry := littleEndianUint32(buf[i*4:])
			if entry == 0 {
				continue
			}
			if idx >= logicalClusters {
				return fmt.Errorf("%w (%d -> %d)", ErrBATBeyondDevice, idx, entry)
			}
			if entry >= d.allocSize {
				return fmt.Errorf("%w (%d -> %d)", ErrBATPastEOF, idx, entry)
			}
			if entry < d.batClusters {
				return fmt.Errorf("%w (%d -> %d)", ErrBATBeforeData, idx, entry)
			}
			m.set(idx, d.level, entry)
		}
	}

	return nil
}

func (d *delta) close() error {
	return d.file.Close()
}
