package gc

import "github.com/pkg/errors"

// Sentinel errors for the taxonomy spec.md §7 describes, wrapped with
// call-site context via github.com/pkg/errors the way the teacher's
// higher-level packages annotate returned errors rather than panicking.
var (
	// ErrClosed is returned by Allocate when called after Close.
	// Collect and CollectMinor do nothing after Close and return an
	// empty Stats instead.
	ErrClosed = errors.New("gc: collector is closed")

	// ErrNotAlive is returned by TryDeref when the referenced value has
	// been dropped but its slot is retained for outstanding weak
	// references (spec.md §6 try_deref -> None).
	ErrNotAlive = errors.New("gc: value has been dropped (weak tombstone)")
)

// wrap annotates err with msg using github.com/pkg/errors, preserving
// the original error for errors.Is/As unwrapping.
func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
