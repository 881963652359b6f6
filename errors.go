package ploop

import "errors"

// Operation-level errors returned by Read and Write, distinct from the
// format-level errors declared alongside header parsing in format.go.
var (
	// ErrBadDescriptor is returned by Read and Write on a nil or closed
	// image handle. Close on such a handle returns nil instead.
	ErrBadDescriptor = errors.New("ploop: bad file descriptor")

	// ErrInvalidArgument is returned when the size (buffer length) or the
	// offset is not a multiple of the alignment unit, or a read/write
	// reaches past the logical end of the device. The buffer's memory
	// address is not checked.
	ErrInvalidArgument = errors.New("ploop: invalid argument")

	// ErrTooLarge is returned when a write would address a logical cluster
	// beyond what the top delta's BAT can represent. BAT growth is not
	// implemented.
	ErrTooLarge = errors.New("ploop: argument too large")

	// ErrReadOnly is returned for writes against a stack opened read-only.
	ErrReadOnly = errors.New("ploop: read-only filesystem")

	// ErrIO is returned for a short or failed positional read/write/truncate.
	// An underlying system error, when there is one, appears only in the
	// message text: it is not wrapped, so errors.Is matches ErrIO but not
	// the system error.
	ErrIO = errors.New("ploop: I/O error")
)
