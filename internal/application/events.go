package application

// listeners is a subscription list. It is only touched on the event loop, or before the
// loop starts, so it carries no lock.
type listeners[T any] []func(T)

func (l *listeners[T]) add(fn func(T)) {
	*l = append(*l, fn)
}

func (l listeners[T]) emit(v T) {
	for _, fn := range l {
		fn(v)
	}
}

// StateChange is emitted by every state machine on each transition.
type StateChange[S ~string] struct {
	From S
	To   S
}
