package wrapper

// ToolMetadata is the descriptive half of a tool registration that has no
// bearing on dispatch but is surfaced verbatim on the /metadata endpoint
// (spec.md §6). It is optional: a wrapper built without a call to
// SetMetadata reports its zero value.
type ToolMetadata struct {
	FunctionName    string
	Version         string
	Tags            []string
	SessionRequired bool
	Stateful        bool
	Streaming       bool
	FullMCPAccess   bool
	Custom          map[string]any
}

// SetMetadata attaches descriptive metadata to a wrapper. Called by the
// manifest builder after New; never touched by Dispatch.
func (w *ToolWrapper) SetMetadata(m ToolMetadata) {
	w.Metadata = m
}
