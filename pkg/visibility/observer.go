package visibility

import (
	"runtime"
	"sync"
	"weak"
)

type binding struct {
	id uint64
	cb func(Entry)
}

// Observer associates elements with visibility callbacks without owning the
// elements. E should not be a zero-sized type, since distinct zero-sized
// values may share an address.
type Observer[E any] struct {
	mu       sync.Mutex
	next     uint64
	bindings map[weak.Pointer[E]]binding
	// tracked holds elements with a registered cleanup, so re-observing an
	// element does not stack cleanups.
	tracked map[weak.Pointer[E]]struct{}
}

// NewObserver returns an empty Observer.
func NewObserver[E any]() *Observer[E] {
	return &Observer[E]{
		bindings: make(map[weak.Pointer[E]]binding),
		tracked:  make(map[weak.Pointer[E]]struct{}),
	}
}

// Observe binds cb to el, replacing any previous binding for el. The
// returned function removes this binding; it is idempotent and does nothing
// once el has been re-observed with another callback. cb must not reference
// el, or el will never be collected.
func (o *Observer[E]) Observe(el *E, cb func(Entry)) (unobserve func()) {
	if el == nil || cb == nil {
		return func() {}
	}
	wp := weak.Make(el)

	o.mu.Lock()
	o.next++
	id := o.next
	o.bindings[wp] = binding{id: id, cb: cb}
	_, seen := o.tracked[wp]
	o.tracked[wp] = struct{}{}
	o.mu.Unlock()

	if !seen {
		runtime.AddCleanup(el, o.reclaim, wp)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if b, ok := o.bindings[wp]; ok && b.id == id {
				delete(o.bindings, wp)
			}
		})
	}
}

// Notify delivers e to the callback bound to el. It reports whether el had
// a binding. The callback runs without the observer's lock held.
func (o *Observer[E]) Notify(el *E, e Entry) bool {
	if el == nil {
		return false
	}
	o.mu.Lock()
	b, ok := o.bindings[weak.Make(el)]
	o.mu.Unlock()
	if !ok {
		return false
	}
	b.cb(e)
	return true
}

// Len returns the number of live bindings.
func (o *Observer[E]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.bindings)
}

// reclaim drops the entries of a collected element.
func (o *Observer[E]) reclaim(wp weak.Pointer[E]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.bindings, wp)
	delete(o.tracked, wp)
}
