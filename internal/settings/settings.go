// Package settings implements the settings applicator (spec §4.5): the
// atomic unit that applies a batched set of per-process tunables against
// one cached handle, in a fixed field order, best-effort.
package settings

import (
	"github.com/gamegov/optimizer/internal/handlecache"
	"github.com/gamegov/optimizer/internal/osfacade"
	"github.com/gamegov/optimizer/internal/types"
)

// Bundle is a sparse record carrying any subset of per-process tunables.
// Only present fields (non-nil pointers) are applied; an empty Bundle is a
// no-op that emits no syscalls (spec §3, §8).
type Bundle struct {
	PriorityClass         *osfacade.PriorityClass
	PriorityBoostDisabled *bool
	PagePriority          *osfacade.PagePriority
	WorkingSetTrim        *bool
	AffinityMask          *uint64
	IOPriority            *osfacade.IOPriority
	EfficiencyMode        *bool
	ThreadIOPriority      *osfacade.IOPriority
}

// IsEmpty reports whether the bundle carries no fields at all.
func (b Bundle) IsEmpty() bool {
	return b.PriorityClass == nil &&
		b.PriorityBoostDisabled == nil &&
		b.PagePriority == nil &&
		b.WorkingSetTrim == nil &&
		b.AffinityMask == nil &&
		b.IOPriority == nil &&
		b.EfficiencyMode == nil &&
		b.ThreadIOPriority == nil
}

// FieldError records one field's apply failure without aborting the rest
// of the bundle (spec §4.5: "best-effort... do not short-circuit").
type FieldError struct {
	Field string
	Err   error
}

// Result is the outcome of one Apply call: zero or more per-field errors,
// none of which stop the remaining fields from being attempted.
type Result struct {
	FieldErrors []FieldError
}

// OK reports whether every present field applied without error.
func (r Result) OK() bool { return len(r.FieldErrors) == 0 }

// Applicator applies Bundles to processes via a handle cache and the OS facade.
type Applicator struct {
	facade osfacade.Facade
	cache  *handlecache.Cache[types.ProcessId]
}

// New builds an Applicator. cache must resolve ProcessId to a live handle.
func New(facade osfacade.Facade, cache *handlecache.Cache[types.ProcessId]) *Applicator {
	return &Applicator{facade: facade, cache: cache}
}

// Apply applies every present field of bundle against pid's cached handle,
// in the fixed order documented by spec §4.5: priority class → boost →
// page priority → working-set trim → affinity → I/O priority → efficiency
// mode → thread-level I/O priority.
//
// A vanished pid aborts early with Vanished; individual field failures are
// collected in Result and do not prevent later fields from being attempted.
func (a *Applicator) Apply(pid types.ProcessId, bundle Bundle) (Result, error) {
	if bundle.IsEmpty() {
		return Result{}, nil
	}

	h, err := a.cache.Get(pid)
	if err != nil {
		return Result{}, err
	}

	var res Result
	try := func(field string, fn func() error) {
		if err := fn(); err != nil {
			res.FieldErrors = append(res.FieldErrors, FieldError{Field: field, Err: err})
		}
	}

	if bundle.PriorityClass != nil {
		try("priority_class", func() error { return a.facade.SetPriorityClass(h, *bundle.PriorityClass) })
	}
	if bundle.PriorityBoostDisabled != nil {
		try("priority_boost_disabled", func() error {
			return a.facade.SetPriorityBoostDisabled(h, *bundle.PriorityBoostDisabled)
		})
	}
	if bundle.PagePriority != nil {
		try("page_priority", func() error { return a.facade.SetPagePriority(h, *bundle.PagePriority) })
	}
	if bundle.WorkingSetTrim != nil && *bundle.WorkingSetTrim {
		try("working_set_trim", func() error { return a.facade.TrimWorkingSet(h) })
	}
	if bundle.AffinityMask != nil {
		try("affinity_mask", func() error { return a.facade.SetProcessAffinityMask(h, *bundle.AffinityMask) })
	}
	if bundle.IOPriority != nil {
		try("io_priority", func() error { return a.facade.SetIOPriority(h, *bundle.IOPriority) })
	}
	if bundle.EfficiencyMode != nil {
		try("efficiency_mode", func() error { return a.facade.SetEfficiencyMode(h, *bundle.EfficiencyMode) })
	}
	if bundle.ThreadIOPriority != nil {
		try("thread_io_priority", func() error { return a.facade.SetThreadIOPriority(h, *bundle.ThreadIOPriority) })
	}

	return res, nil
}

// Ptr helpers — the bundle's sparse fields are pointers so that "absent"
// and "present with the zero value" are distinguishable.

func PriorityClassPtr(v osfacade.PriorityClass) *osfacade.PriorityClass { return &v }
func PagePriorityPtr(v osfacade.PagePriority) *osfacade.PagePriority    { return &v }
func IOPriorityPtr(v osfacade.IOPriority) *osfacade.IOPriority          { return &v }
func BoolPtr(v bool) *bool                                              { return &v }
func Uint64Ptr(v uint64) *uint64                                        { return &v }

