// Package alloc wraps a caller-supplied memory budget into the four
// categories the transport core draws from: general, session, fragment,
// and payload. It is the Go counterpart of the source's allocator facade —
// a thin accounting layer, not a real allocator, since Go already manages
// heap memory; what the core needs from it is the OOM policy (a category
// ceiling that turns a runaway embedder configuration into an ArgumentError
// -free, in-band Failure instead of unbounded growth).
package alloc

import "github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"

// Category names one of the four allocator categories. Any category may be
// configured to alias General, matching the source's policy of letting
// session/fragment/payload share the general budget when left at zero.
type Category int

const (
	CategoryGeneral Category = iota
	CategorySession
	CategoryFragment
	CategoryPayload
	categoryCount
)

func (c Category) String() string {
	switch c {
	case CategoryGeneral:
		return "general"
	case CategorySession:
		return "session"
	case CategoryFragment:
		return "fragment"
	case CategoryPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// Spec is the embedder-supplied MemoryResourcesSpec: a byte ceiling per
// category, where 0 means "alias General" (for Session/Fragment/Payload)
// or "unbounded" (for General itself).
type Spec struct {
	General  uint64
	Session  uint64
	Fragment uint64
	Payload  uint64
}

// Resources tracks bytes in use against each category's ceiling. It is
// single-threaded by contract: the core only ever calls it from the
// executor's thread, so no locking is needed.
type Resources struct {
	limit [categoryCount]uint64
	used  [categoryCount]uint64
	alias [categoryCount]Category
}

// New builds a Resources from spec, resolving category aliasing.
func New(spec Spec) *Resources {
	r := &Resources{}
	r.limit[CategoryGeneral] = spec.General
	for c := CategoryGeneral; c < categoryCount; c++ {
		r.alias[c] = c
	}
	if spec.Session != 0 {
		r.limit[CategorySession] = spec.Session
	} else {
		r.alias[CategorySession] = CategoryGeneral
	}
	if spec.Fragment != 0 {
		r.limit[CategoryFragment] = spec.Fragment
	} else {
		r.alias[CategoryFragment] = CategoryGeneral
	}
	if spec.Payload != 0 {
		r.limit[CategoryPayload] = spec.Payload
	} else {
		r.alias[CategoryPayload] = CategoryGeneral
	}
	return r
}

// Charge reserves n bytes against cat's budget (following its alias, if
// any). It fails with a MemoryError Failure when the category's ceiling
// (0 = unbounded) would be exceeded.
func (r *Resources) Charge(cat Category, n int) error {
	idx := r.alias[cat]
	if r.limit[idx] != 0 && r.used[idx]+uint64(n) > r.limit[idx] {
		return cyphal.NewMemoryError(cat.String())
	}
	r.used[idx] += uint64(n)
	return nil
}

// Release returns n bytes previously charged against cat.
func (r *Resources) Release(cat Category, n int) {
	idx := r.alias[cat]
	if r.used[idx] < uint64(n) {
		r.used[idx] = 0
		return
	}
	r.used[idx] -= uint64(n)
}

// Alloc charges n bytes against cat and returns a freshly made buffer of
// that size, or the Charge failure.
func (r *Resources) Alloc(cat Category, n int) ([]byte, error) {
	if err := r.Charge(cat, n); err != nil {
		return nil, err
	}
	return make([]byte, n), nil
}

// InUse reports the bytes currently charged against cat's resolved budget.
func (r *Resources) InUse(cat Category) uint64 { return r.used[r.alias[cat]] }
