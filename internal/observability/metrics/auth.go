package metrics

import (
	"time"

	"github.com/tremiti/admin-console/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

// SessionTransition describes one published session state.
type SessionTransition struct {
	State  string
	Reason string
	// Duration is the time spent resolving the identity event, if any.
	Duration time.Duration
}

// EmitSessionTransition counts published session states and resolution latency.
func EmitSessionTransition(sink statsd.Sink, in SessionTransition) {
	if sink == nil {
		return
	}
	tags := map[string]string{"state": in.State}
	if in.Reason != "" {
		tags["reason"] = in.Reason
	}
	sink.Count("session.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("session.resolve_duration", in.Duration, CloneTags(tags))
	}
}

// EmitLogin counts login attempts by result.
func EmitLogin(sink statsd.Sink, result string) {
	if sink == nil {
		return
	}
	sink.Count("auth.login", 1, map[string]string{"result": result})
}

// EmitRouteDecision counts route guard redirects.
func EmitRouteDecision(sink statsd.Sink, reason string) {
	if sink == nil || reason == "" {
		return
	}
	sink.Count("guard.redirect", 1, map[string]string{"reason": reason})
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
