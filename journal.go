package runtime

import "sync"

// JournalKey is an opaque, typed handle for a journal entry (§4.14).
// Two keys are the same entry iff they are the same *JournalKey[T]
// pointer, so callers must share the key value (usually a package
// level var) rather than recreate it.
type JournalKey[T any] struct {
	name string
}

// NewJournalKey creates a new typed journal key. name is used only for
// diagnostics; identity is by pointer.
func NewJournalKey[T any](name string) *JournalKey[T] {
	return &JournalKey[T]{name: name}
}

func (k *JournalKey[T]) String() string { return k.name }

// SetOptions configures SetJournal.
type SetOptions struct {
	// Override allows replacing an existing value for the same key.
	// Without it, setting an already-present key is a no-op that
	// reports false from SetJournal.
	Override bool
}

// Journal is the single supported mechanism for middleware to
// communicate with downstream middleware or the final run without
// ambient state (§4.14). One Journal instance backs exactly one
// task/resource invocation.
type Journal struct {
	mu     sync.Mutex
	values map[any]any
}

// NewJournal returns an empty journal for one invocation.
func NewJournal() *Journal {
	return &Journal{values: make(map[any]any)}
}

// SetJournal stores v under k. It returns false if the key was already
// present and opts.Override was not set.
func SetJournal[T any](j *Journal, k *JournalKey[T], v T, opts ...SetOptions) bool {
	override := false
	if len(opts) > 0 {
		override = opts[0].Override
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.values[k]; exists && !override {
		return false
	}
	j.values[k] = v
	return true
}

// GetJournal retrieves the value stored under k, if any.
func GetJournal[T any](j *Journal, k *JournalKey[T]) (T, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var zero T
	raw, ok := j.values[k]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
