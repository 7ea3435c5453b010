package runtime

// Global system tags and events (§4.13, §6). Constant-block style
// grounded on the teacher's api.go iota/const blocks for
// WorkGroupMode/ErrorPolicy, adapted here to package-level definition
// values instead of numeric enums since tags/events are themselves
// kernel entities.

// SystemTag marks events/listeners that must never trigger wildcard
// "*" hooks (§4.4, §4.13).
var SystemTag = defineTag("global.system", map[string]any{
	"description": "marks system-internal events excluded from wildcard hooks",
})

// TunnelTag marks a resource as a tunnel (§4.10). The router reads the
// resource's bound config (ResourceDefinition.With) as a *TunnelRunner;
// the resource's init value is not consulted.
var TunnelTag = defineTag("global.tunnel", map[string]any{
	"description": "marks a resource as a tunnel runner",
})

// ReadyEvent is the one kernel-wide event guaranteed to be public,
// emitted once after boot completes (§4.13, §6).
var ReadyEvent = defineEvent(EventOptions{
	ID:   "global.ready",
	Tags: []*TagUsage{SystemTag.Bare()},
})

// UnhandledErrorEvent carries listener/hook failures that would
// otherwise be swallowed (§4.4, §7).
var UnhandledErrorEvent = defineEvent(EventOptions{
	ID:   "global.unhandledError",
	Tags: []*TagUsage{SystemTag.Bare()},
})

// UnhandledErrorPayload is the payload emitted on UnhandledErrorEvent.
type UnhandledErrorPayload struct {
	Error  error
	Source string
}

// Lifecycle event id suffixes, emitted as "<ownerID>.<suffix>" on the
// event manager (§4.13). These ids are not registered in the store, so
// a hook or task whose On names one fails boot validation with
// EventNotFoundError.
const (
	lifecycleBeforeInit = "beforeInit"
	lifecycleAfterInit  = "afterInit"
	lifecycleBeforeRun  = "beforeRun"
	lifecycleAfterRun   = "afterRun"
	lifecycleOnError    = "onError"
)

func lifecycleEventID(ownerID, suffix string) string {
	return ownerID + "." + suffix
}

// AfterInitPayload is the payload for a resource's afterInit event.
type AfterInitPayload struct {
	ResourceID string
	Value      any
}

// OnErrorPayload is the payload for a beforeInit/run onError event.
type OnErrorPayload struct {
	OwnerID string
	Error   error
	// Suppress lets a listener mark the error as handled so the resource
	// enters `failed` with a nil value instead of aborting the whole boot
	// (§4.9). Resource init emits the payload as *OnErrorPayload so the
	// flag is visible to the manager; task and dispose errors emit a
	// plain value and ignore it.
	Suppress bool
}

// AfterRunPayload is the payload for a task's afterRun event.
type AfterRunPayload struct {
	TaskID string
	Result any
}
