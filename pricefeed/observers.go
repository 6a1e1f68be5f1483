package pricefeed

type observer[T any] struct {
	id uint64
	fn func(T)
}

// observerList keeps callbacks in registration order
type observerList[T any] struct {
	entries []observer[T]
}

func (l *observerList[T]) add(id uint64, fn func(T)) {
	l.entries = append(l.entries, observer[T]{id: id, fn: fn})
}

func (l *observerList[T]) remove(id uint64) bool {
	for i, o := range l.entries {
		if o.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)

			return true
		}
	}

	return false
}

func (l *observerList[T]) len() int {
	return len(l.entries)
}

func (l *observerList[T]) snapshot() []func(T) {
	if len(l.entries) == 0 {
		return nil
	}

	fns := make([]func(T), len(l.entries))
	for i, o := range l.entries {
		fns[i] = o.fn
	}

	return fns
}
