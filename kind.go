package runtime

import "github.com/google/uuid"

// Kind marks the variant of a definition so the kernel can dispatch on
// it without structural guessing (§4.1). It is the tagged-variant
// discriminator referenced in the DESIGN NOTES.
type Kind string

const (
	KindTask       Kind = "task"
	KindResource   Kind = "resource"
	KindEvent      Kind = "event"
	KindMiddleware Kind = "middleware"
	KindHook       Kind = "hook"
	KindTag        Kind = "tag"
	KindError      Kind = "error"
	KindIndex      Kind = "index"
)

// item is the minimal capability set every definition exposes,
// referenced in the DESIGN NOTES as "an interface capability set
// {id, middleware?, run?, init?, dispose?}".
type item interface {
	ID() string
	Kind() Kind
}

// newID returns id unchanged if non-empty, otherwise generates a
// stable, globally-unique anonymous id for the given kind.
func newID(kind Kind, id string) string {
	if id != "" {
		return id
	}
	return string(kind) + "_" + uuid.NewString()
}
