package cache

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/IvanBrykalov/loadcache/internal/loadgroup"
)

// Sentinel errors returned directly (via errors.Is) by the loading
// operations. strErr/errorsNew is the teacher's own minimalist sentinel
// style, kept for the trivial cases; the richer envelopes below wrap a
// cause instead of being plain strings.
var (
	ErrNoLoader           = errorsNew("cache: no loader configured")
	ErrClosed             = errorsNew("cache: cache is closed")
	ErrInvalidEntryAccess = errorsNew("cache: current entry accessed outside its load span")
	ErrNullFromLoader     = errorsNew("cache: loader returned a null value and permit-null-values is disabled")
	// ErrInvalidConfig is not returned by this package: New panics on an
	// invalid configuration instead.
	ErrInvalidConfig = errorsNew("cache: invalid configuration")

	// ErrDoubleCompletion re-exports loadgroup's sentinel so callers of an
	// async or bulk loader shape never need to import internal/loadgroup
	// themselves to recognize it.
	ErrDoubleCompletion = loadgroup.ErrDoubleCompletion
)

func errorsNew(s string) error { return &strErr{s} }

type strErr struct{ s string }

func (e *strErr) Error() string { return e.s }

// LoadException wraps a loader's own error with the key that failed,
// mirroring CacheLoaderException's role of carrying the offending key
// alongside the cause. Unwrap exposes Cause so errors.Is/As keep working
// through the envelope.
type LoadException[K comparable] struct {
	Key   K
	Cause error
}

func (e *LoadException[K]) Error() string {
	return fmt.Sprintf("cache: load failed for key %v: %v", e.Key, e.Cause)
}

func (e *LoadException[K]) Unwrap() error { return e.Cause }

// AggregateException is the "<N> out of <M> loads failed" envelope
// returned by getAll/loadAll/reloadAll/invokeAll when at least one key
// failed. Individual causes are reachable via Unwrap (go-multierror's
// own chain) or by inspecting Errors.
type AggregateException struct {
	Failed, Total int
	merr          *multierror.Error
}

func newAggregateException(total int) *AggregateException {
	return &AggregateException{Total: total, merr: &multierror.Error{}}
}

func (e *AggregateException) add(err error) {
	e.Failed++
	e.merr = multierror.Append(e.merr, err)
}

// orNil returns e if at least one key failed, nil otherwise — the usual
// "build up failures, return nil if there were none" shape.
func (e *AggregateException) orNil() error {
	if e == nil || e.Failed == 0 {
		return nil
	}
	return e
}

func (e *AggregateException) Error() string {
	if e.Total > 0 {
		return fmt.Sprintf("cache: %d out of %d loads failed: %v", e.Failed, e.Total, e.merr.ErrorOrNil())
	}
	return fmt.Sprintf("cache: %d loads failed: %v", e.Failed, e.merr.ErrorOrNil())
}

func (e *AggregateException) Unwrap() error { return e.merr.ErrorOrNil() }

// Errors returns the individual per-key causes in the order they failed.
func (e *AggregateException) Errors() []error {
	if e == nil || e.merr == nil {
		return nil
	}
	return e.merr.Errors
}
