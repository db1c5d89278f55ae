package transport

import "sync"

// AttributeKey names a typed per-channel attribute. Keys compare by identity.
type AttributeKey[T comparable] struct {
	name string
}

// NewAttributeKey creates a key. Create keys once, at package level.
func NewAttributeKey[T comparable](name string) *AttributeKey[T] {
	return &AttributeKey[T]{name: name}
}

// Name returns the key name.
func (k *AttributeKey[T]) Name() string {
	return k.name
}

// Attribute is a mutable slot holding a T. The zero value of T means unset.
type Attribute[T comparable] struct {
	mu sync.Mutex
	v  T
}

// Get returns the current value.
func (a *Attribute[T]) Get() T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

// Set replaces the value.
func (a *Attribute[T]) Set(v T) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

// CompareAndSet sets v when the current value equals old.
func (a *Attribute[T]) CompareAndSet(old, v T) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.v != old {
		return false
	}
	a.v = v
	return true
}

// GetAndSet sets v and returns the previous value.
func (a *Attribute[T]) GetAndSet(v T) T {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.v
	a.v = v
	return prev
}

// Attr returns the attribute of ch for key, creating it on first use.
func Attr[T comparable](ch *Channel, key *AttributeKey[T]) *Attribute[T] {
	if a, ok := ch.attrs.Load(key); ok {
		return a.(*Attribute[T])
	}
	a, _ := ch.attrs.LoadOrStore(key, &Attribute[T]{})
	return a.(*Attribute[T])
}
