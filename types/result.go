package types

// ExecutionResult is the outcome of one backend execution.
// Exactly one of Result and Failure is non-empty. Both are serialized payloads
// produced by the payload serializer.
type ExecutionResult struct {
	// Result is the serialized success value.
	Result []byte `msgpack:"result,omitempty"`
	// Failure is the serialized error value.
	Failure []byte `msgpack:"failure,omitempty"`
}

// SuccessResult returns a result carrying a success payload.
func SuccessResult(result []byte) *ExecutionResult {
	return &ExecutionResult{Result: result}
}

// FailureResult returns a result carrying a failure payload.
func FailureResult(failure []byte) *ExecutionResult {
	return &ExecutionResult{Failure: failure}
}

// IsFailure reports whether r carries a failure payload.
func (r *ExecutionResult) IsFailure() bool {
	return r != nil && len(r.Failure) > 0
}

// Validate enforces that exactly one payload is present.
func (r *ExecutionResult) Validate() error {
	if r == nil {
		return ProtocolMismatch("missing execution result")
	}
	hasResult, hasFailure := len(r.Result) > 0, len(r.Failure) > 0
	switch {
	case hasResult && hasFailure:
		return ProtocolMismatch("execution result carries both result and failure")
	case !hasResult && !hasFailure:
		return ProtocolMismatch("execution result carries neither result nor failure")
	}
	return nil
}

// Model is a build model returned by a fetch-model action.
type Model struct {
	// Name is the canonical model identifier.
	Name string `msgpack:"name" json:"name" yaml:"name"`
	// Attributes is the model body as produced by the build tool.
	Attributes map[string]any `msgpack:"attributes,omitempty" json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ActionOutput is the result of a client-provided action.
// Payload is the action's own serialized return value, carried verbatim.
type ActionOutput struct {
	Payload []byte `msgpack:"payload" json:"payload" yaml:"payload"`
}
