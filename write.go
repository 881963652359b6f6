package ploop

import (
	"fmt"

	"go.uber.org/zap"
)

// Write applies a copy-on-write update to the logical image starting at
// offset. Every touched cluster is resolved independently: a cluster
// already owned by the top delta is rewritten in place (Case A); any
// other cluster (unallocated, or owned by a lower level) is satisfied by
// allocating a brand-new physical cluster in the top delta, reconstructing
// any bytes the caller didn't supply from whichever level previously
// backed it (or zero, if none did), and only then publishing the new
// mapping through the top delta's on-disk BAT (Case B).
//
// If a Case B allocation step fails partway through a multi-cluster
// write, every cluster grown during this call is truncated back off the
// end of the top delta file and the triggering error is returned. Any
// earlier cluster in the same call whose BAT entry had already been
// published before the failure keeps that entry: the on-disk map and the
// physical file length can end up inconsistent in that situation. This
// mirrors a known limitation of the on-disk format's original engine and
// is not something this implementation attempts to repair — a later
// reopen of the stack will once again validate every BAT entry against
// the file's real length and reject anything left dangling.
func (img *Image) Write(offset uint64, buf []byte) (int, error) {
	if img == nil || img.closed {
		return 0, ErrBadDescriptor
	}
	if img.mode != ModeReadWrite {
		return 0, ErrReadOnly
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
	if lastCluster-1 >= uint64(img.maxIdx) {
		return 0, ErrTooLarge
	}

	top := img.deltas[img.topLevel]
	startAllocSize := top.allocSize
	allocSize := startAllocSize

	rollback := func(cause error) (int, error) {
		if allocSize > startAllocSize {
			if err := top.file.Truncate(int64(startAllocSize) * int64(clusterSize)); err != nil {
				img.logger.Error("rollback truncate failed", zap.Error(err))
			}
		}
		return 0, cause
	}

	var got uint64
	for got < size {
		i := uint32((offset + got) / clusterSize)
		o := (offset + got) % clusterSize
		n := minUint64(clusterSize-o, size-got)

		level, block := img.translate(i)

		if block != 0 && level == img.topLevel {
			// Case A: already owned by the top delta, rewrite in place.
			pos := int64(block)*int64(clusterSize) + int64(o)
			nw, err := top.file.WriteAt(buf[got:got+n], pos)
			if err != nil || uint64(nw) != n {
				if err == nil {
					err = fmt.Errorf("short write: %d of %d bytes", nw, n)
				}
				img.logger.Error("in-place write failed", zap.Uint32("cluster", i), zap.Error(err))
				return rollback(fmt.Errorf("%w: %v", ErrIO, err))
			}
		} else {
			// Case B: allocate a new physical cluster in the top delta.
			allocSize++

			if err := top.file.Truncate(int64(allocSize) * int64(clusterSize)); err != nil {
				img.logger.Error("allocation truncate failed", zap.Uint32("cluster", i), zap.Error(err))
				allocSize--
				return rollback(fmt.Errorf("%w: %v", ErrIO, err))
			}

			var payload []byte
			if n == clusterSize {
				payload = buf[got : got+n]
			} else {
				if cap(img.scratch) < int(clusterSize) {
					img.scratch = make([]byte, clusterSize)
				}
				payload = img.scratch[:clusterSize]
				if block != 0 {
					src := img.deltas[level]
					pos := int64(block) * int64(clusterSize)
					nr, err := src.file.ReadAt(payload, pos)
					if err != nil || uint64(nr) != clusterSize {
						if err == nil {
							err = fmt.Errorf("short read: %d of %d bytes", nr, clusterSize)
						}
						img.logger.Error("reconstruction read failed", zap.Uint32("cluster", i), zap.Error(err))
						return rollback(fmt.Errorf("%w: %v", ErrIO, err))
					}
				} else {
					zeroFill(payload)
				}
				copy(payload[o:o+n], buf[got:got+n])
			}

			pos := int64(allocSize) * int64(clusterSize)
			nw, err := top.file.WriteAt(payload, pos)
			if err != nil || uint64(nw) != clusterSize {
				if err == nil {
					err = fmt.Errorf("short write: %d of %d bytes", nw, clusterSize)
				}
				img.logger.Error("allocation write failed", zap.Uint32("cluster", i), zap.Error(err))
				return rollback(fmt.Errorf("%w: %v", ErrIO, err))
			}

			if existing := img.wbat.entry(i); existing != 0 {
				err := fmt.Errorf("%w: logical cluster %d already maps to %d in the top delta", ErrCorruptBAT, i, existing)
				img.logger.Error("refusing to overwrite non-zero BAT entry", zap.Uint32("cluster", i), zap.Error(err))
				return rollback(err)
			}
			img.wbat.setEntry(i, allocSize)
			if err := img.wbat.msyncBAT(); err != nil {
				img.logger.Error("BAT msync failed", zap.Uint32("cluster", i), zap.Error(err))
				return rollback(fmt.Errorf("%w: %v", ErrIO, err))
			}

			img.m.set(i, img.topLevel, allocSize)
			img.logger.Debug("allocated cluster", zap.Uint32("cluster", i), zap.Uint32("block", allocSize))
		}

		got += n
	}

	if allocSize > top.allocSize {
		top.allocSize = allocSize
	}

	return int(got), nil
}
