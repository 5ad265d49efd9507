package chat

// Sink is the consumer of a streaming answer, typically the UI.
//
// Fragment is called zero or more times in strict arrival order with coalesced
// text; a successful stream ends with a Fragment("\n") completion marker.
// Done is called exactly once per request after the last Fragment, with nil on
// success or the error that aborted the request.
type Sink interface {
	Fragment(text string)
	Done(err error)
}

// SinkFuncs adapts a pair of functions to a Sink. Nil fields are no-ops.
type SinkFuncs struct {
	OnFragment func(text string)
	OnDone     func(err error)
}

func (s SinkFuncs) Fragment(text string) {
	if s.OnFragment != nil {
		s.OnFragment(text)
	}
}

func (s SinkFuncs) Done(err error) {
	if s.OnDone != nil {
		s.OnDone(err)
	}
}
