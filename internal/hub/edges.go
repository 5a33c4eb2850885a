package hub

// oneShots holds callbacks that each fire on the next matching event only.
type oneShots[T any] struct {
	fns []func(T)
}

func (o *oneShots[T]) add(fn func(T)) {
	if fn == nil {
		return
	}
	o.fns = append(o.fns, fn)
}

// take disarms every registered callback and returns them bound to v.
func (o *oneShots[T]) take(v T) []func() {
	if len(o.fns) == 0 {
		return nil
	}
	fns := o.fns
	o.fns = nil
	out := make([]func(), 0, len(fns))
	for _, fn := range fns {
		out = append(out, func() { fn(v) })
	}

	return out
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
