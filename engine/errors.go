package engine

import "errors"

// Error kinds from spec.md §7. The hot path never returns these; it
// fails silently and self-disables, and the control surface reports
// failures as Sentinel or 0. No function in this package returns them.
var (
	ErrNotLoaded     = errors.New("engine: trace buffer not allocated")
	ErrNotPrivileged = errors.New("engine: caller is not privileged for this command")
	ErrArenaFull     = errors.New("engine: arena full and wrap mode is off")
	ErrBadLength     = errors.New("engine: variable-length entry length outside 1..8")
	ErrCopyFault     = errors.New("engine: user-memory copy failed")
)

// Sentinel is the all-ones value returned by the control surface on
// NotLoaded/NotPrivileged/unknown-command errors, matching the original
// module's bitwise-complement-of-zero convention.
const Sentinel = ^uint64(0)
