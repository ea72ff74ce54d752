package sim

import "reflect"

type busKey struct {
	typ    reflect.Type
	target string
}

// Bus carries data between modules within one event. It is owned by the
// worker processing the event and is therefore not synchronized. Messages are
// keyed by Go type and target name ("" for target-less data).
type Bus struct {
	messages map[busKey][]any
}

func newBus() *Bus {
	return &Bus{messages: make(map[busKey][]any)}
}

// Dispatch publishes v for target on the event's bus.
func Dispatch[T any](b *Bus, target string, v T) {
	k := busKey{typ: reflect.TypeFor[T](), target: target}
	b.messages[k] = append(b.messages[k], v)
}

// Fetch returns the first message of type T published for target.
func Fetch[T any](b *Bus, target string) (T, bool) {
	all := FetchAll[T](b, target)
	if len(all) == 0 {
		var zero T
		return zero, false
	}
	return all[0], true
}

// FetchAll returns every message of type T published for target, in publish order.
func FetchAll[T any](b *Bus, target string) []T {
	raw := b.messages[busKey{typ: reflect.TypeFor[T](), target: target}]
	out := make([]T, len(raw))
	for i, m := range raw {
		out[i] = m.(T)
	}
	return out
}
