package observability

// Span names used across the runtime. Kept centralized so tracing output is
// consistent between the HTTP edge, the tool wrapper, and the event processor.
const (
	SpanHTTPRequest   = "http.request"
	SpanToolDispatch  = "mesh.tool.dispatch"
	SpanDependencyGet = "mesh.proxy.call"
	SpanLLMIteration  = "mesh.llm.iteration"
	SpanEventHandle   = "mesh.event.handle"
)

// Attribute keys attached to spans and log lines.
const (
	AttrCapability   = "mesh.capability"
	AttrFuncID       = "mesh.func_id"
	AttrDepIndex     = "mesh.dep_index"
	AttrEndpoint     = "mesh.endpoint"
	AttrFunctionName = "mesh.function_name"
	AttrArgCount     = "mesh.arg_count"
	AttrDepCount     = "mesh.dep_count"
	AttrEventType    = "mesh.event_type"
)
