package patch

import "github.com/pkg/errors"

// Error taxonomy shared by every operator. Kernels wrap these with context, so
// callers should match with errors.Is.
var (
	// ErrShapeMismatch reports tensors whose shapes or dtypes do not fit together.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrOutOfRange reports a caller-supplied coordinate outside the volume.
	ErrOutOfRange = errors.New("coordinate out of range")

	// ErrInvalidIndex reports an index triple that is neither valid nor the full sentinel.
	ErrInvalidIndex = errors.New("partial sentinel index")

	// ErrInvalidParams reports operator parameters that cannot be used.
	ErrInvalidParams = errors.New("invalid parameters")
)
