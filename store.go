package runtime

import "sync"

// Store is the central component map (§4.5): separate indexes per
// kind, ownership/visibility tracking, override bookkeeping, and a
// registration lock (Lock; the store has no unlock). Shape grounded on
// resource_container.go's RWMutex-guarded map, generalized from one
// flat `map[string]any` into one map per kind the way spec §4.5
// prescribes.
type Store struct {
	mu sync.Mutex

	globalIndex map[string]Kind // every registered id, across kinds, for cross-kind conflict detection

	tasks       map[string]*TaskDefinition
	resources   map[string]*ResourceDefinition
	taskMW      map[string]*MiddlewareDefinition
	resourceMW  map[string]*MiddlewareDefinition
	events      map[string]*EventDefinition
	tags        map[string]*TagDefinition
	hooks       map[string]*HookDefinition
	errorDefs   map[string]*ErrorDefinition

	configs       map[string]any  // resource id -> bound config, from ResourceWithConfig
	overridden    map[string]bool // ids that were intentionally swapped via overrides[]
	visibility    *VisibilityTracker
	locked        bool
	rootID        string
}

// NewStore constructs an empty, unlocked store.
func NewStore() *Store {
	return &Store{
		globalIndex: make(map[string]Kind),
		tasks:       make(map[string]*TaskDefinition),
		resources:   make(map[string]*ResourceDefinition),
		taskMW:      make(map[string]*MiddlewareDefinition),
		resourceMW:  make(map[string]*MiddlewareDefinition),
		events:      make(map[string]*EventDefinition),
		tags:        make(map[string]*TagDefinition),
		hooks:       make(map[string]*HookDefinition),
		errorDefs:   make(map[string]*ErrorDefinition),
		configs:     make(map[string]any),
		overridden:  make(map[string]bool),
		visibility:  NewVisibilityTracker(),
	}
}

// MarkOverride records that id is expected to be replaced by a later
// registration via overrides[] (§4.5): later duplicate registrations
// of that id are no longer duplicates, they are the intentional swap.
func (s *Store) MarkOverride(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overridden[id] = true
}

// storeGenericItem dispatches on kind and enforces the uniqueness/
// conflict/override rules of §4.5 and invariant 1 of §3.
func (s *Store) storeGenericItem(ownerID string, x any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return LockedError("store")
	}

	switch v := x.(type) {
	case *TaskDefinition:
		if err := s.checkConflict(v.id, KindTask); err != nil {
			return err
		}
		s.tasks[v.id] = v
	case *ResourceDefinition:
		if err := s.checkConflict(v.id, KindResource); err != nil {
			return err
		}
		s.resources[v.id] = v
		if v.Exports != nil {
			s.visibility.DeclareExports(v.id, v.Exports)
		}
	case *ResourceWithConfig:
		if err := s.checkConflict(v.Resource.id, KindResource); err != nil {
			return err
		}
		s.resources[v.Resource.id] = v.Resource
		if existing, ok := s.configs[v.Resource.id]; ok && existing != nil && !s.overridden[v.Resource.id] {
			return DuplicateRegistrationError(KindResource, v.Resource.id)
		}
		s.configs[v.Resource.id] = v.Config
		if v.Resource.Exports != nil {
			s.visibility.DeclareExports(v.Resource.id, v.Resource.Exports)
		}
	case *MiddlewareDefinition:
		if err := s.checkConflict(v.id, KindMiddleware); err != nil {
			return err
		}
		if v.TargetKind == MiddlewareForResource {
			s.resourceMW[v.id] = v
		} else {
			s.taskMW[v.id] = v
		}
	case *EventDefinition:
		if err := s.checkConflict(v.id, KindEvent); err != nil {
			return err
		}
		s.events[v.id] = v
	case *TagDefinition:
		if err := s.checkConflict(v.id, KindTag); err != nil {
			return err
		}
		s.tags[v.id] = v
	case *HookDefinition:
		if err := s.checkConflict(v.id, KindHook); err != nil {
			return err
		}
		s.hooks[v.id] = v
	case *ErrorDefinition:
		if err := s.checkConflict(v.id, KindError); err != nil {
			return err
		}
		s.errorDefs[v.id] = v
	default:
		return UnknownItemTypeError(x)
	}

	s.visibility.RecordOwner(idOf(x), ownerID)
	return nil
}

// checkConflict enforces invariant 1 (§3): an id may be registered at
// most once per kind, and reusing an id across kinds is always a
// conflict, with the sole exception of an id explicitly marked for
// override.
func (s *Store) checkConflict(id string, kind Kind) error {
	if _, exists := s.globalIndex[id]; exists {
		if s.overridden[id] {
			return nil
		}
		return DuplicateRegistrationError(kind, id)
	}
	s.globalIndex[id] = kind
	return nil
}

func idOf(x any) string {
	if it, ok := x.(item); ok {
		return it.ID()
	}
	if v, ok := x.(*ResourceWithConfig); ok {
		return v.Resource.id
	}
	return ""
}

// ApplyOverride replaces the previously registered definition sharing
// replacement's id, recording it as an intentional swap (§4.5).
func (s *Store) ApplyOverride(x any) error {
	id := idOf(x)
	if id == "" {
		return UnknownItemTypeError(x)
	}
	s.MarkOverride(id)
	return s.storeGenericItem(s.ownerOf(id), x)
}

func (s *Store) ownerOf(id string) string {
	// Overrides re-use whatever owner originally registered the id, if
	// known, otherwise root.
	s.visibility.mu.Lock()
	defer s.visibility.mu.Unlock()
	if owner, ok := s.visibility.owners[id]; ok {
		return owner
	}
	return s.rootID
}

// Lock prevents further registration (§4.5, called at end of init).
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = true
}

// Task looks up a registered task by id.
func (s *Store) Task(id string) (*TaskDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Resource looks up a registered resource by id.
func (s *Store) Resource(id string) (*ResourceDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	return r, ok
}

// ResourceConfig returns the config bound to a resource id, if any.
func (s *Store) ResourceConfig(id string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs[id]
}

// Event looks up a registered event by id.
func (s *Store) Event(id string) (*EventDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	return e, ok
}

// TaskMiddleware looks up a registered task middleware by id.
func (s *Store) TaskMiddleware(id string) (*MiddlewareDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.taskMW[id]
	return m, ok
}

// ResourceMiddleware looks up a registered resource middleware by id.
func (s *Store) ResourceMiddleware(id string) (*MiddlewareDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.resourceMW[id]
	return m, ok
}

// Hook looks up a registered hook by id.
func (s *Store) Hook(id string) (*HookDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hooks[id]
	return h, ok
}

// AllResources returns every registered resource, unordered.
func (s *Store) AllResources() []*ResourceDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ResourceDefinition, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	return out
}

// AllTasks returns every registered task, unordered.
func (s *Store) AllTasks() []*TaskDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TaskDefinition, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// AllHooks returns every registered hook, unordered.
func (s *Store) AllHooks() []*HookDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*HookDefinition, 0, len(s.hooks))
	for _, h := range s.hooks {
		out = append(out, h)
	}
	return out
}

// ErrorDef looks up a registered error helper by id.
func (s *Store) ErrorDef(id string) (*ErrorDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.errorDefs[id]
	return e, ok
}

// CanAccess reports whether consumerID may depend on targetID per the
// visibility tracker (§4.5 invariant 2).
func (s *Store) CanAccess(targetID, consumerID string) bool {
	return s.visibility.IsAccessible(targetID, consumerID)
}

// Exists reports whether id is registered under any kind.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.globalIndex[id]
	return ok
}
