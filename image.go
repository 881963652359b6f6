package ploop

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Mode selects whether a stack's top delta is opened for writing.
type Mode int

const (
	// ModeReadOnly opens every delta read-only. Writes are rejected.
	ModeReadOnly Mode = iota
	// ModeReadWrite opens every delta but the last read-only, and the
	// last (top) delta read-write. Only the topmost delta in a stack may
	// ever be opened read-write.
	ModeReadWrite
)

// Image is a handle on an opened stack of deltas. The zero value is not
// usable; construct with Open.
type Image struct {
	id     uuid.UUID
	logger *zap.Logger

	deltas []*delta
	m      *mapping

	clusterSize uint32
	topLevel    int
	maxIdx      uint32 // number of logical clusters the top BAT can address (one past the highest index)

	scratch []byte

	mode Mode
	wbat *writableBAT // nil when ModeReadOnly

	closed bool
}

// Open opens an ordered stack of deltas bottom-up (level 0 = base,
// len(deltaPaths)-1 = top) and builds the merged per-cluster mapping
// across them. On any failure, every delta opened so far is closed before
// returning, and a diagnostic is written through the configured logger
// (default: none).
func Open(deltaPaths []string, mode Mode, opts ...Option) (*Image, error) {
	if len(deltaPaths) == 0 {
		return nil, fmt.Errorf("ploop: no delta paths given")
	}

	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(o)
	}

	id := uuid.New()
	logger := o.logger.With(zap.String("stack_id", id.String()))

	img := &Image{
		id:      id,
		logger:  logger,
		m:       newMapping(0),
		scratch: make([]byte, o.scratchBufferHint),
		mode:    mode,
	}

	for level, path := range deltaPaths {
		writable := mode == ModeReadWrite && level == len(deltaPaths)-1

		d, h, logicalClusters, err := openDeltaFile(path, level, writable, o.directIO)
		if err != nil {
			logger.Error("failed to open delta", zap.Int("level", level), zap.String("path", path), zap.Error(err))
			img.closeDeltasOnly()
			return nil, err
		}

		if level == 0 {
			img.clusterSize = d.clusterSize
			if uint32(len(img.scratch)) != d.clusterSize {
				img.scratch = make([]byte, d.clusterSize)
			}
		} else if d.clusterSize != img.clusterSize {
			d.close()
			img.closeDeltasOnly()
			err := fmt.Errorf("%w: %q has cluster size %d, level 0 has %d",
				ErrClusterMismatch, path, d.clusterSize, img.clusterSize)
			logger.Error("cluster size mismatch", zap.Int("level", level), zap.Error(err))
			return nil, err
		}

		img.m.grow(logicalClusters)

		if err := d.readBAT(img.m, logicalClusters); err != nil {
			d.close()
			img.closeDeltasOnly()
			logger.Error("BAT validation failed", zap.Int("level", level), zap.String("path", path), zap.Error(err))
			return nil, err
		}

		img.deltas = append(img.deltas, d)
		img.topLevel = level

		logger.Debug("opened delta",
			zap.Int("level", level),
			zap.String("path", path),
			zap.Uint32("cluster_size", d.clusterSize),
			zap.Uint32("bat_clusters", d.batClusters),
			zap.Uint32("logical_clusters", logicalClusters),
			zap.Uint32("alloc_size", d.allocSize),
		)
	}

	top := img.deltas[img.topLevel]
	img.maxIdx = (top.batClusters*img.clusterSize)/4 - headerWords

	if mode == ModeReadWrite {
		wbat, err := mmapBAT(top.file, top.batClusters, img.clusterSize)
		if err != nil {
			logger.Error("mmap of top BAT failed", zap.Error(err))
			img.closeDeltasOnly()
			return nil, err
		}
		img.wbat = wbat
		if err := img.wbat.setDiskInUse(true); err != nil {
			logger.Error("marking disk in use failed", zap.Error(err))
			img.wbat.close()
			img.closeDeltasOnly()
			return nil, err
		}
		logger.Debug("top delta marked in use")
	}

	logger.Debug("stack opened",
		zap.Int("levels", len(img.deltas)),
		zap.Uint32("cluster_size", img.clusterSize),
		zap.Uint32("logical_clusters", img.m.len()),
		zap.Uint32("max_idx", img.maxIdx),
	)

	return img, nil
}

// closeDeltasOnly closes every opened delta in reverse level order,
// without touching the BAT mapping — used on the Open error path, where
// the BAT may not have been mapped yet.
func (img *Image) closeDeltasOnly() error {
	var result *multierror.Error
	for i := len(img.deltas) - 1; i >= 0; i-- {
		if err := img.deltas[i].close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	img.deltas = nil
	return result.ErrorOrNil()
}

// Close clears the dirty flag, unmaps the top BAT, and closes every delta
// in reverse level order. It is idempotent on an already-closed or nil
// handle.
func (img *Image) Close() error {
	if img == nil || img.closed {
		return nil
	}
	img.closed = true

	var result *multierror.Error

	if img.wbat != nil {
		if err := img.wbat.setDiskInUse(false); err != nil {
			result = multierror.Append(result, fmt.Errorf("clearing dirty flag: %w", err))
		} else {
			img.logger.Debug("top delta dirty flag cleared")
		}
		if err := img.wbat.close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("unmapping BAT: %w", err))
		}
		img.wbat = nil
	}

	for i := len(img.deltas) - 1; i >= 0; i-- {
		if err := img.deltas[i].close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing level %d: %w", i, err))
		}
	}
	img.deltas = nil

	img.logger.Debug("stack closed")

	return result.ErrorOrNil()
}

// ClusterSize returns the cluster size in bytes, common to every delta in
// the stack.
func (img *Image) ClusterSize() uint32 {
	return img.clusterSize
}

// LogicalClusters returns L, the logical device size in clusters.
func (img *Image) LogicalClusters() uint32 {
	return img.m.len()
}

// Size returns the logical device size in bytes.
func (img *Image) Size() uint64 {
	return uint64(img.m.len()) * uint64(img.clusterSize)
}

// translate returns the (level, physical cluster) pair for logical
// cluster i.
func (img *Image) translate(i uint32) (level int, block uint32) {
	return img.m.lookup(i)
}
