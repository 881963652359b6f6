package ploop

import (
	"fmt"

	"go.uber.org/zap"
)

// Read fills buf with the logical image contents starting at offset,
// splitting the request into per-cluster slices and following the
// correct level of the stack for each one. len(buf), offset, and the
// implied end-of-range must all be PageSize-aligned.
//
// Unallocated regions (no level of the stack ever wrote that cluster)
// read back as zeros.
func (img *Image) Read(offset uint64, buf []byte) (int, error) {
	if img == nil || img.closed {
		return 0, ErrBadDescriptor
	}

	size := uint64(len(buf))
	if err := checkAlignment(offset, size); err != nil {
		return 0, err
	}

	clusterSize := uint64(img.clusterSize)
	lastCluster := ceilDiv(offset+size, clusterSize)
	if lastCluster == 0 {
		return 0, nil
	}
	if lastCluster-1 >= uint64(img.m.len()) {
		return 0, ErrInvalidArgument
	}

	var got uint64
	for got < size {
		i := uint32((offset + got) / clusterSize)
		o := (offset + got) % clusterSize
		n := minUint64(clusterSize-o, size-got)

		level, block := img.translate(i)

		if block == 0 {
			zeroFill(buf[got : got+n])
		} else {
			d := img.deltas[level]
			pos := int64(block)*int64(clusterSize) + int64(o)
			nr, err := d.file.ReadAt(buf[got:got+n], pos)
			if err != nil || uint64(nr) != n {
				if err == nil {
					err = fmt.Errorf("short read: %d of %d bytes", nr, n)
				}
				img.logger.Error("read failed", zap.Uint32("cluster", i), zap.Error(err))
				return int(got), fmt.Errorf("%w: %v", ErrIO, err)
			}
		}

		got += n
	}

	return int(got), nil
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func checkAlignment(offset, size uint64) error {
	if !isAligned(offset) || !isAligned(size) {
		return ErrInvalidArgument
	}
	return nil
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
