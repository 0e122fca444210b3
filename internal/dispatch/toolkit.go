package dispatch

// Toolkit holds the host accessors passed to handlers after the subject
// (interaction, event or client).
type Toolkit struct {
	// Client is the subject of scheduled handlers.
	Client    any
	Utils     any
	Storage   any
	Network   any
	Scheduler any
	Time      any
}

// preferred is (subject, utils, storage, network, scheduler, time).
func (t Toolkit) preferred(subject any) []any {
	return []any{subject, t.Utils, t.Storage, t.Network, t.Scheduler, t.Time}
}

// legacy is (subject, utils).
func (t Toolkit) legacy(subject any) []any {
	return []any{subject, t.Utils}
}

func (t Toolkit) scheduled() []any {
	return t.preferred(t.Client)
}
