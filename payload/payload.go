// Package payload serializes values and errors that cross the backend boundary.
//
// A serialized payload is a msgpack envelope naming a registered type. Error
// values are encoded as a RemoteError chain (kind, message, cause) so the
// receiving side can raise them without knowing the original Go type.
package payload

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/buildlink/types"
)

// Built-in type names.
const (
	TypeNil              = "nil"
	TypeError            = "error"
	TypeString           = "string"
	TypeBytes            = "bytes"
	TypeMap              = "map"
	TypeModel            = "model"
	TypeBuildEnvironment = "build_environment"
	TypeActionOutput     = "action_output"
)

// envelope is the on-wire form of a payload.
type envelope struct {
	Type  string             `msgpack:"type"`
	Error *RemoteError       `msgpack:"error,omitempty"`
	Data  msgpack.RawMessage `msgpack:"data,omitempty"`
}

// RemoteError is an error value reconstructed from a failure payload.
// Identity beyond kind, message and cause chain is not preserved.
type RemoteError struct {
	Kind    types.ErrorKind `msgpack:"kind"`
	Message string          `msgpack:"message"`
	Cause   *RemoteError    `msgpack:"cause,omitempty"`
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap returns the cause, or nil at the end of the chain.
func (e *RemoteError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// ErrorKind returns the kind carried over the wire.
func (e *RemoteError) ErrorKind() types.ErrorKind {
	return e.Kind
}

// FromError flattens err's unwrap chain into a RemoteError.
// Returns nil for a nil error.
func FromError(err error) *RemoteError {
	if err == nil {
		return nil
	}
	if remote, ok := err.(*RemoteError); ok {
		return remote
	}
	kind := types.KindOf(err)
	if kind == types.KindUnknown {
		kind = types.KindExecution
	}
	return &RemoteError{
		Kind:    kind,
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Serializer encodes and decodes payloads for a fixed set of registered types.
// Safe for concurrent use.
type Serializer struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewSerializer returns a serializer with the built-in types registered.
func NewSerializer() *Serializer {
	s := &Serializer{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	s.Register(TypeString, "")
	s.Register(TypeBytes, []byte(nil))
	s.Register(TypeMap, map[string]any(nil))
	s.Register(TypeModel, &types.Model{})
	s.Register(TypeBuildEnvironment, &types.BuildEnvironment{})
	s.Register(TypeActionOutput, &types.ActionOutput{})
	return s
}

var (
	defaultOnce       sync.Once
	defaultSerializer *Serializer
)

// Default returns the process-wide serializer.
func Default() *Serializer {
	defaultOnce.Do(func() { defaultSerializer = NewSerializer() })
	return defaultSerializer
}

// Register associates name with the dynamic type of sample.
// Registering a name twice replaces the earlier type.
func (s *Serializer) Register(name string, sample any) {
	t := reflect.TypeOf(sample)
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byName[name]; ok {
		delete(s.byType, old)
	}
	s.byName[name] = t
	s.byType[t] = name
}

// Serialize encodes v. Any error value is encoded as a RemoteError chain.
func (s *Serializer) Serialize(v any) ([]byte, error) {
	if v == nil {
		return msgpack.Marshal(&envelope{Type: TypeNil})
	}
	if err, ok := v.(error); ok {
		return msgpack.Marshal(&envelope{Type: TypeError, Error: FromError(err)})
	}

	s.mu.RLock()
	name, ok := s.byType[reflect.TypeOf(v)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("payload: unregistered type %T", v)
	}

	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("payload: encode %s: %w", name, err)
	}
	return msgpack.Marshal(&envelope{Type: name, Data: data})
}

// Deserialize decodes a payload produced by Serialize.
// A failure payload yields a *RemoteError value, which is itself an error.
func (s *Serializer) Deserialize(b []byte) (any, error) {
	var env envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, types.ProtocolMismatch(fmt.Sprintf("payload: malformed envelope: %v", err))
	}

	switch env.Type {
	case TypeNil:
		return nil, nil
	case TypeError:
		if env.Error == nil {
			return nil, types.ProtocolMismatch("payload: error envelope without error")
		}
		return env.Error, nil
	}

	s.mu.RLock()
	t, ok := s.byName[env.Type]
	s.mu.RUnlock()
	if !ok {
		return nil, types.ProtocolMismatch(fmt.Sprintf("payload: unknown type %q", env.Type))
	}

	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(env.Data, ptr.Interface()); err != nil {
		return nil, types.ProtocolMismatch(fmt.Sprintf("payload: decode %s: %v", env.Type, err))
	}
	return ptr.Elem().Interface(), nil
}

// DeserializeFailure decodes a failure payload into a raiseable error.
// A payload that does not hold an error is reported as a protocol mismatch.
func (s *Serializer) DeserializeFailure(b []byte) error {
	v, err := s.Deserialize(b)
	if err != nil {
		return err
	}
	failure, ok := v.(error)
	if !ok {
		return types.ProtocolMismatch(fmt.Sprintf("payload: failure payload holds %T, not an error", v))
	}
	return failure
}
