package ploop

import "go.uber.org/zap"

// defaultScratchBufferSize is the working-buffer size used before level 0's
// actual cluster size is known, mirroring the original C source's
// DEF_CLUSTER default (1 MiB).
const defaultScratchBufferSize = 1 << 20

// Option configures how a stack is opened.
type Option func(*openOptions)

// openOptions holds configuration for Open.
type openOptions struct {
	logger            *zap.Logger
	directIO          bool
	scratchBufferHint uint32
}

func defaultOpenOptions() *openOptions {
	return &openOptions{
		logger:            zap.NewNop(),
		directIO:          true,
		scratchBufferHint: defaultScratchBufferSize,
	}
}

// WithLogger injects a structured logger. Every level-open, BAT validation
// outcome, allocation, and dirty-flag transition is logged at Debug (or
// Warn/Error on failure) with the stack's correlation ID attached. The
// default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *openOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDirectIO controls whether deltas are opened with O_DIRECT. Many
// test filesystems (tmpfs, overlayfs) reject O_DIRECT outright; set to
// false to fall back to buffered I/O while keeping the same alignment
// discipline in the API.
func WithDirectIO(enabled bool) Option {
	return func(o *openOptions) {
		o.directIO = enabled
	}
}

// WithScratchBufferHint sets the initial size of the working buffer
// allocated before level 0 is opened. It is reallocated to level 0's
// actual cluster size regardless, so this only avoids one reallocation
// for callers who know the cluster size in advance.
func WithScratchBufferHint(bytes uint32) Option {
	return func(o *openOptions) {
		if bytes > 0 {
			o.scratchBufferHint = bytes
		}
	}
}
