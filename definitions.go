package runtime

import "context"

// Dependencies maps a local name to a component reference, or to a
// zero-arg factory returning one — the deferred-mapping form used to
// describe reference cycles at description time (§3, Design Notes
// "Dependency factories"). Resolved once, lazily, in the resolver
// before graph construction.
type Dependencies map[string]any

// resolveDependencies invokes any factory values exactly once and
// type-checks the result, returning a name->item map.
func resolveDependencies(deps Dependencies) (map[string]item, error) {
	out := make(map[string]item, len(deps))
	for name, v := range deps {
		resolved := v
		if factory, ok := v.(func() any); ok {
			resolved = factory()
		}
		it, ok := resolved.(item)
		if !ok {
			return nil, UnknownItemTypeError(v)
		}
		out[name] = it
	}
	return out, nil
}

// RunContext is passed to task bodies, resource init/dispose, and
// middleware bodies. It is the generalized form of the teacher's
// systemExecutionContext (world/dt/tick/logger/commands) adapted from
// "ECS tick scratch" to "one kernel invocation's scratch".
type RunContext struct {
	Context context.Context
	Deps    map[string]any
	Journal *Journal
	Logger  Logger

	// Input holds the task input (task run) or the resource config
	// (resource init/dispose).
	Input any

	// Scratch holds the resource's own per-instance mutable object
	// returned by ResourceDefinition.ContextFunc; nil for tasks.
	Scratch any
}

// TaskRunFunc is a task's body.
type TaskRunFunc func(rc *RunContext) (any, error)

// Schema validates and optionally coerces a value; see schema.go.
type Schema struct {
	name   string
	target any
	parse  func(v any) (any, error)
}

// TaskDefinition describes a named callable unit (§3).
type TaskDefinition struct {
	id            string
	Dependencies  Dependencies
	Middleware    []*MiddlewareUsage
	RunFunc       TaskRunFunc
	On            string // event id, "*", or "" (not a listener)
	ListenerOrder int
	InputSchema   *Schema
	ResultSchema  *Schema
	Tags          []*TagUsage
	Meta          map[string]any
	Throws        []*ErrorDefinition

	// TunnelPolicy enumerates which middleware ids run client-side
	// when this task is routed through a client/both tunnel. Nil
	// means "all local middleware runs client-side" (§4.7 tunnel
	// policy integration).
	TunnelPolicy []string

	computedDeps map[string]item
}

func (t *TaskDefinition) ID() string { return t.id }
func (t *TaskDefinition) Kind() Kind { return KindTask }

// TaskOptions configures defineTask.
type TaskOptions struct {
	ID            string
	Dependencies  Dependencies
	Middleware    []*MiddlewareUsage
	Run           TaskRunFunc
	On            string
	ListenerOrder int
	InputSchema   *Schema
	ResultSchema  *Schema
	Tags          []*TagUsage
	Meta          map[string]any
	Throws        []*ErrorDefinition
	TunnelPolicy  []string
}

// defineTask is a pure factory returning a typed task descriptor.
func defineTask(opts TaskOptions) *TaskDefinition {
	return &TaskDefinition{
		id:            newID(KindTask, opts.ID),
		Dependencies:  opts.Dependencies,
		Middleware:    opts.Middleware,
		RunFunc:       opts.Run,
		On:            opts.On,
		ListenerOrder: opts.ListenerOrder,
		InputSchema:   opts.InputSchema,
		ResultSchema:  opts.ResultSchema,
		Tags:          opts.Tags,
		Meta:          opts.Meta,
		Throws:        opts.Throws,
		TunnelPolicy:  opts.TunnelPolicy,
	}
}

// DefineTask is the exported caller-facing factory (§6).
func DefineTask(opts TaskOptions) *TaskDefinition { return defineTask(opts) }

// ResourceInitFunc initializes a resource and returns its value.
type ResourceInitFunc func(rc *RunContext) (any, error)

// ResourceDisposeFunc tears a resource's value down.
type ResourceDisposeFunc func(rc *RunContext, value any) error

// ResourceContextFunc returns a fresh per-resource mutable scratch
// object, called once before Init.
type ResourceContextFunc func() any

// ResourceDefinition describes a stateful, lifecycle-managed
// component that may register other components (§3).
type ResourceDefinition struct {
	id           string
	Dependencies Dependencies
	Register     []any
	Overrides    []any
	Middleware   []*MiddlewareUsage
	InitFunc     ResourceInitFunc
	DisposeFunc  ResourceDisposeFunc
	ContextFunc  ResourceContextFunc
	Tags         []*TagUsage
	Meta         map[string]any

	// Exports restricts which owned items are visible outside this
	// resource's subtree (§4.5). Nil means "no restriction declared".
	Exports map[string]bool

	computedDeps map[string]item
}

func (r *ResourceDefinition) ID() string { return r.id }
func (r *ResourceDefinition) Kind() Kind { return KindResource }

// ResourceWithConfig binds a resource definition to exactly one
// configuration value (§3).
type ResourceWithConfig struct {
	Resource *ResourceDefinition
	Config   any
}

func (r *ResourceWithConfig) ID() string { return r.Resource.id }
func (r *ResourceWithConfig) Kind() Kind { return KindResource }

// With binds cfg to the resource, returning a usage suitable for
// register[]/root.
func (r *ResourceDefinition) With(cfg any) *ResourceWithConfig {
	return &ResourceWithConfig{Resource: r, Config: cfg}
}

// IsTunneled reports whether this resource carries the system tunnel
// tag (§4.10).
func (r *ResourceDefinition) IsTunneled() bool {
	for _, t := range r.Tags {
		if t.Definition == TunnelTag {
			return true
		}
	}
	return false
}

// ResourceOptions configures defineResource.
type ResourceOptions struct {
	ID           string
	Dependencies Dependencies
	Register     []any
	Overrides    []any
	Middleware   []*MiddlewareUsage
	Init         ResourceInitFunc
	Dispose      ResourceDisposeFunc
	Context      ResourceContextFunc
	Tags         []*TagUsage
	Meta         map[string]any
	Exports      []string
}

func defineResource(opts ResourceOptions) *ResourceDefinition {
	var exports map[string]bool
	if opts.Exports != nil {
		exports = make(map[string]bool, len(opts.Exports))
		for _, id := range opts.Exports {
			exports[id] = true
		}
	}
	return &ResourceDefinition{
		id:           newID(KindResource, opts.ID),
		Dependencies: opts.Dependencies,
		Register:     opts.Register,
		Overrides:    opts.Overrides,
		Middleware:   opts.Middleware,
		InitFunc:     opts.Init,
		DisposeFunc:  opts.Dispose,
		ContextFunc:  opts.Context,
		Tags:         opts.Tags,
		Meta:         opts.Meta,
		Exports:      exports,
	}
}

// DefineResource is the exported caller-facing factory (§6).
func DefineResource(opts ResourceOptions) *ResourceDefinition { return defineResource(opts) }

// MiddlewareTargetKind restricts a middleware to task or resource
// pipelines (§3).
type MiddlewareTargetKind string

const (
	MiddlewareForTask     MiddlewareTargetKind = "task"
	MiddlewareForResource MiddlewareTargetKind = "resource"
)

// ExecutionInput is what each middleware/interceptor layer receives
// (§4.7).
type ExecutionInput struct {
	*RunContext

	// Target is the *TaskDefinition or *ResourceDefinition this
	// pipeline is composed for.
	Target item

	// MiddlewareConfig is the config bound via Middleware.With, or nil.
	MiddlewareConfig any

	next func(overrideInput any) (any, error)
}

// Next invokes the next layer. Passing nil reuses the current input.
func (e *ExecutionInput) Next(overrideInput ...any) (any, error) {
	if len(overrideInput) > 0 {
		return e.next(overrideInput[0])
	}
	return e.next(nil)
}

// MiddlewareRunFunc is a middleware's body.
type MiddlewareRunFunc func(exec *ExecutionInput) (any, error)

// MiddlewareDefinition describes an interceptor layer around a task
// run or resource init (§3).
type MiddlewareDefinition struct {
	id           string
	TargetKind   MiddlewareTargetKind
	Dependencies Dependencies
	RunFunc      MiddlewareRunFunc
	ConfigSchema *Schema
	Meta         map[string]any

	global       bool
	globalFilter func(target item) bool

	computedDeps map[string]item
}

func (m *MiddlewareDefinition) ID() string { return m.id }
func (m *MiddlewareDefinition) Kind() Kind { return KindMiddleware }

// MiddlewareUsage binds a middleware definition to a configuration
// value, the form tasks/resources list in their Middleware[] slice.
type MiddlewareUsage struct {
	Definition *MiddlewareDefinition
	Config     any
}

// With binds cfg to the middleware.
func (m *MiddlewareDefinition) With(cfg any) *MiddlewareUsage {
	return &MiddlewareUsage{Definition: m, Config: cfg}
}

// Bare wraps the middleware with no configuration.
func (m *MiddlewareDefinition) Bare() *MiddlewareUsage {
	return &MiddlewareUsage{Definition: m}
}

// Everywhere flags the middleware as global, optionally filtered by
// predicate over the target definition. Calling it twice is an error
// (§7 MiddlewareAlreadyGlobalError).
func (m *MiddlewareDefinition) Everywhere(filter ...func(target item) bool) error {
	if m.global {
		return MiddlewareAlreadyGlobalError(m.id)
	}
	m.global = true
	if len(filter) > 0 {
		m.globalFilter = filter[0]
	}
	return nil
}

// MiddlewareOptions configures defineMiddleware.
type MiddlewareOptions struct {
	ID           string
	TargetKind   MiddlewareTargetKind
	Dependencies Dependencies
	Run          MiddlewareRunFunc
	ConfigSchema *Schema
	Meta         map[string]any
}

func defineMiddleware(opts MiddlewareOptions) *MiddlewareDefinition {
	return &MiddlewareDefinition{
		id:           newID(KindMiddleware, opts.ID),
		TargetKind:   opts.TargetKind,
		Dependencies: opts.Dependencies,
		RunFunc:      opts.Run,
		ConfigSchema: opts.ConfigSchema,
		Meta:         opts.Meta,
	}
}

// DefineMiddleware is the exported caller-facing factory (§6).
func DefineMiddleware(opts MiddlewareOptions) *MiddlewareDefinition { return defineMiddleware(opts) }

// EventDefinition describes a typed channel tasks/hooks can
// emit/listen to (§3). The payload type is descriptive only.
type EventDefinition struct {
	id   string
	Tags []*TagUsage
	Meta map[string]any
}

func (e *EventDefinition) ID() string { return e.id }
func (e *EventDefinition) Kind() Kind { return KindEvent }

// IsSystem reports whether this event carries the system tag and must
// never trigger wildcard hooks (§4.13).
func (e *EventDefinition) IsSystem() bool {
	for _, t := range e.Tags {
		if t.Definition == SystemTag {
			return true
		}
	}
	return false
}

// EventOptions configures defineEvent.
type EventOptions struct {
	ID   string
	Tags []*TagUsage
	Meta map[string]any
}

func defineEvent(opts EventOptions) *EventDefinition {
	return &EventDefinition{id: newID(KindEvent, opts.ID), Tags: opts.Tags, Meta: opts.Meta}
}

// DefineEvent is the exported caller-facing factory (§6).
func DefineEvent(opts EventOptions) *EventDefinition { return defineEvent(opts) }

// HookRunFunc is a hook's body.
type HookRunFunc func(ctx context.Context, emission *EventEmission, deps map[string]any) error

// HookDefinition subscribes to one event or "*" (§3).
type HookDefinition struct {
	id           string
	On           string
	Order        int
	Dependencies Dependencies
	RunFunc      HookRunFunc

	computedDeps map[string]item
}

func (h *HookDefinition) ID() string { return h.id }
func (h *HookDefinition) Kind() Kind { return KindHook }

// HookOptions configures defineHook.
type HookOptions struct {
	ID           string
	On           string
	Order        int
	Dependencies Dependencies
	Run          HookRunFunc
}

func defineHook(opts HookOptions) *HookDefinition {
	return &HookDefinition{
		id:           newID(KindHook, opts.ID),
		On:           opts.On,
		Order:        opts.Order,
		Dependencies: opts.Dependencies,
		RunFunc:      opts.Run,
	}
}

// DefineHook is the exported caller-facing factory (§6).
func DefineHook(opts HookOptions) *HookDefinition { return defineHook(opts) }

// TagDefinition is a typed marker, usable as metadata or to carry
// per-item configuration for middleware/policies (§3).
type TagDefinition struct {
	id   string
	Meta map[string]any
}

func (t *TagDefinition) ID() string { return t.id }
func (t *TagDefinition) Kind() Kind { return KindTag }

// TagUsage binds a tag to an optional per-target configuration value.
type TagUsage struct {
	Definition *TagDefinition
	Config     any
}

// With binds cfg to the tag.
func (t *TagDefinition) With(cfg any) *TagUsage { return &TagUsage{Definition: t, Config: cfg} }

// Bare wraps the tag with no configuration.
func (t *TagDefinition) Bare() *TagUsage { return &TagUsage{Definition: t} }

func defineTag(id string, meta map[string]any) *TagDefinition {
	return &TagDefinition{id: newID(KindTag, id), Meta: meta}
}

// DefineTag is the exported caller-facing factory (§6).
func DefineTag(id string, meta map[string]any) *TagDefinition { return defineTag(id, meta) }

// ErrorDefinition is a registry-based typed error helper: when a
// thrown object carries {id, data} matching this definition, the
// kernel replaces the error with Throw(data)'s result (§4.8).
type ErrorDefinition struct {
	id    string
	Meta  map[string]any
	Throw func(data any) error
}

func (e *ErrorDefinition) ID() string { return e.id }
func (e *ErrorDefinition) Kind() Kind { return KindError }

func defineError(id string, throw func(data any) error, meta map[string]any) *ErrorDefinition {
	return &ErrorDefinition{id: newID(KindError, id), Throw: throw, Meta: meta}
}

// DefineError is the exported caller-facing factory (§6).
func DefineError(id string, throw func(data any) error, meta map[string]any) *ErrorDefinition {
	return defineError(id, throw, meta)
}

// IdentifiedError is the shape the task runner recognizes to attach
// error identity (§4.8): an error whose dynamic type carries an id and
// a data payload.
type IdentifiedError interface {
	error
	ErrorID() string
	ErrorData() any
}

// IndexDefinition groups other definitions for convenient bulk
// registration via register[] (§6 defineIndex); the store expands it
// into its constituent items during the registration DFS.
type IndexDefinition struct {
	id    string
	Items []any
}

func (i *IndexDefinition) ID() string { return i.id }
func (i *IndexDefinition) Kind() Kind { return KindIndex }

func defineIndex(id string, items ...any) *IndexDefinition {
	return &IndexDefinition{id: newID(KindIndex, id), Items: items}
}

// DefineIndex is the exported caller-facing factory (§6).
func DefineIndex(id string, items ...any) *IndexDefinition { return defineIndex(id, items...) }
