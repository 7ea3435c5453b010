package runtime

import "sort"

// overrideEntry remembers which resource declared an override[] entry
// so the swap can be re-registered under the same owner.
type overrideEntry struct {
	ownerID string
	item    any
}

// regState tracks per-registration-tree dedupe state: the same
// component *instance* reachable via two paths (a diamond dependency)
// must not be treated as a duplicate-registration conflict (§8
// "Registering the same component instance twice... de-duplicates").
type regState struct {
	visited   map[string]any
	overrides []overrideEntry
}

// RegisterTree performs the DFS over register[] described in §4.11
// step 1: it walks root and everything it transitively registers,
// storing each item into store under the registering resource's id as
// owner, expanding IndexDefinition groups inline, and deferring
// Overrides[] entries until the whole tree has been walked (§4.11
// step 2) so a later swap can itself be registered.
func RegisterTree(store *Store, root any) error {
	state := &regState{visited: make(map[string]any)}
	if err := walk(store, state, "", root); err != nil {
		return err
	}
	for _, ov := range state.overrides {
		id := idOf(ov.item)
		if id != "" {
			store.MarkOverride(id)
		}
		if err := walk(store, state, ov.ownerID, ov.item); err != nil {
			return err
		}
	}
	return nil
}

func walk(store *Store, state *regState, ownerID string, x any) error {
	if x == nil {
		return nil
	}

	switch v := x.(type) {
	case *IndexDefinition:
		for _, child := range v.Items {
			if err := walk(store, state, ownerID, child); err != nil {
				return err
			}
		}
		return nil

	case *ResourceDefinition:
		if prior, seen := state.visited[v.id]; seen {
			if prior == any(v) {
				return nil // same instance via a diamond dependency; dedupe silently
			}
			return store.storeGenericItem(ownerID, v) // distinct object, same id: let Store raise the conflict
		}
		state.visited[v.id] = any(v)
		if err := store.storeGenericItem(ownerID, v); err != nil {
			return err
		}
		for _, ov := range v.Overrides {
			state.overrides = append(state.overrides, overrideEntry{ownerID: v.id, item: ov})
		}
		for _, child := range v.Register {
			if err := walk(store, state, v.id, child); err != nil {
				return err
			}
		}
		return nil

	case *ResourceWithConfig:
		if prior, seen := state.visited[v.Resource.id]; seen {
			if prior == any(v.Resource) {
				return nil
			}
			return store.storeGenericItem(ownerID, v)
		}
		state.visited[v.Resource.id] = any(v.Resource)
		if err := store.storeGenericItem(ownerID, v); err != nil {
			return err
		}
		for _, ov := range v.Resource.Overrides {
			state.overrides = append(state.overrides, overrideEntry{ownerID: v.Resource.id, item: ov})
		}
		for _, child := range v.Resource.Register {
			if err := walk(store, state, v.Resource.id, child); err != nil {
				return err
			}
		}
		return nil

	case *TaskDefinition:
		return dedupeAndStore(store, state, ownerID, v.id, v)
	case *MiddlewareDefinition:
		return dedupeAndStore(store, state, ownerID, v.id, v)
	case *EventDefinition:
		return dedupeAndStore(store, state, ownerID, v.id, v)
	case *TagDefinition:
		return dedupeAndStore(store, state, ownerID, v.id, v)
	case *HookDefinition:
		return dedupeAndStore(store, state, ownerID, v.id, v)
	case *ErrorDefinition:
		return dedupeAndStore(store, state, ownerID, v.id, v)
	default:
		return UnknownItemTypeError(x)
	}
}

func dedupeAndStore(store *Store, state *regState, ownerID, id string, x any) error {
	if prior, seen := state.visited[id]; seen {
		if prior == x {
			return nil
		}
		return store.storeGenericItem(ownerID, x)
	}
	state.visited[id] = x
	return store.storeGenericItem(ownerID, x)
}

// ResolveInitOrder builds the resource dependency graph and
// linearizes init order via depth-first topological sort (§4.6),
// grounded on the teacher's rebuildOrder/checkCrossGroupConflicts
// passes over work-group ownership. Cycles raise
// CircularDependenciesError listing the path in order (invariant 5 of
// §3: the graph must be acyclic across resource initialization only).
func ResolveInitOrder(store *Store) ([]*ResourceDefinition, error) {
	resources := store.AllResources()
	byID := make(map[string]*ResourceDefinition, len(resources))
	edges := make(map[string][]string, len(resources))

	for _, r := range resources {
		byID[r.id] = r
		deps, err := resolveDependencies(r.Dependencies)
		if err != nil {
			return nil, err
		}
		r.computedDeps = deps
		for _, dep := range deps {
			if res, ok := dep.(*ResourceDefinition); ok {
				edges[r.id] = append(edges[r.id], res.id)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(resources))
	var order []*ResourceDefinition
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			path := append(append([]string{}, stack...), id)
			return CircularDependenciesError(path)
		}
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range edges[id] {
			if _, exists := byID[dep]; !exists {
				continue // dangling edges are reported by reachability validation, not here
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		order = append(order, byID[id])
		return nil
	}

	// Stable iteration order: resources in registration-independent,
	// but deterministic, id order.
	ids := make([]string, 0, len(resources))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ValidateReachability checks that every resource and task dependency
// resolves to something registered and visible to the consumer, that
// every task and hook `on` event id is registered, and that every task
// middleware is registered (§4.6, §7 DependencyNotFoundError/
// EventNotFoundError). Middleware dependencies and hook dependencies
// are not checked.
func ValidateReachability(store *Store) error {
	for _, r := range store.AllResources() {
		for name, dep := range r.computedDeps {
			if !store.Exists(dep.ID()) {
				return DependencyNotFoundError(r.id, name)
			}
			if !store.CanAccess(dep.ID(), r.id) {
				return DependencyNotFoundError(r.id, name)
			}
		}
	}
	for _, t := range store.AllTasks() {
		deps, err := resolveDependencies(t.Dependencies)
		if err != nil {
			return err
		}
		t.computedDeps = deps
		for name, dep := range deps {
			if !store.Exists(dep.ID()) {
				return DependencyNotFoundError(t.id, name)
			}
			if !store.CanAccess(dep.ID(), t.id) {
				return DependencyNotFoundError(t.id, name)
			}
		}
		if t.On != "" && t.On != "*" {
			if _, ok := store.Event(t.On); !ok {
				return EventNotFoundError(t.On)
			}
		}
		for _, mu := range t.Middleware {
			if _, ok := store.TaskMiddleware(mu.Definition.id); !ok {
				return MiddlewareNotRegisteredError(mu.Definition.id)
			}
		}
	}
	for _, h := range store.AllHooks() {
		deps, err := resolveDependencies(h.Dependencies)
		if err != nil {
			return err
		}
		h.computedDeps = deps
		if h.On != "*" {
			if _, ok := store.Event(h.On); !ok {
				return EventNotFoundError(h.On)
			}
		}
	}
	return nil
}
