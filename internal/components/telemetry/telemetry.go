package telemetry

// API is how every component reports what happened to it. Components never log directly,
// so tests can swap in a Recorder and assert on what was reported.
//
// note: fault injection point
type API interface {
	// ReportBroken reports that a component failed in a way an operator should look at.
	//
	// `id` names the component, not the line that failed: a missing submit button in the
	// retrieval engine is `engine.retrieve`, the button itself goes into params or the wrapped
	// error. ids are lowercase, `<struct or interface>.<method>`, with dashes inside a method
	// name (`engine.session-close`). Wrap the API in a ScopedAPI to get the package prefix.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something unexpected that did not break the component, a portal
	// that answered a probe with 503 for example. `id` follows ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports progress that is only interesting while developing.
	ReportDebug(msg string, params ...any)

	// ReportCount reports a gauge-like sample of `id` at the current time. Samples are points
	// over time and are never summed. `id` follows ReportBroken.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id and message with a namespace, usually the package name.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scope(id string) string {
	return s.namespace + ": " + id
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scope(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scope(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.scope(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scope(id), count)
}
