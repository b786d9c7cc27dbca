package dispatch

// State enumerates the positions a request moves through inside the
// dispatcher. Each request advances monotonically from StateStart toward
// StateEnd; the three failure states are terminal branches that still emit a
// response before the request ends.
type State int

const (
	StateStart State = iota
	StateAdmissionChecked
	StateDefaultsApplied
	StateBufferOpened
	StateRouteResolved
	StateLifecycleBeforeFired
	StateHandlerInvoked
	StateLifecycleAfterFired
	StateBufferClosed
	StateSent
	StateEnd

	// StateRejected terminates requests the admission gate refused.
	StateRejected

	// StateResolutionFailed terminates requests no route or service claimed.
	StateResolutionFailed

	// StateHandlerFailed terminates requests whose handler returned an error
	// or panicked.
	StateHandlerFailed
)

var stateNames = map[State]string{
	StateStart:                "start",
	StateAdmissionChecked:     "admission_checked",
	StateDefaultsApplied:      "defaults_applied",
	StateBufferOpened:         "buffer_opened",
	StateRouteResolved:        "route_resolved",
	StateLifecycleBeforeFired: "lifecycle_before_fired",
	StateHandlerInvoked:       "handler_invoked",
	StateLifecycleAfterFired:  "lifecycle_after_fired",
	StateBufferClosed:         "buffer_closed",
	StateSent:                 "sent",
	StateEnd:                  "end",
	StateRejected:             "rejected",
	StateResolutionFailed:     "resolution_failed",
	StateHandlerFailed:        "handler_failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Failed reports whether the state is one of the terminal failure branches.
func (s State) Failed() bool {
	return s == StateRejected || s == StateResolutionFailed || s == StateHandlerFailed
}
