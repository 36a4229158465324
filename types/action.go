package types

import (
	"errors"
	"fmt"
)

// NullModel is the model identifier used when a client only runs tasks.
const NullModel = ""

// BuildEnvironmentModel is the canonical identifier of the build environment model.
const BuildEnvironmentModel = "BuildEnvironment"

// ActionKind discriminates build action variants on the wire.
type ActionKind string

// Action kinds.
const (
	ActionKindFetchModel     ActionKind = "fetch_model"
	ActionKindClientProvided ActionKind = "client_provided"
)

// StartParameters are the converted build start parameters carried by every action.
type StartParameters struct {
	ProjectDir    string            `msgpack:"project_dir" json:"project_dir"`
	RootDir       string            `msgpack:"root_dir" json:"root_dir"`
	UserHome      string            `msgpack:"user_home" json:"user_home"`
	SearchUpwards bool              `msgpack:"search_upwards" json:"search_upwards"`
	Tasks         []string          `msgpack:"tasks,omitempty" json:"tasks,omitempty"`
	Arguments     []string          `msgpack:"arguments,omitempty" json:"arguments,omitempty"`
	Properties    map[string]string `msgpack:"properties,omitempty" json:"properties,omitempty"`
}

// BuildAction is a request payload describing what the backend should do.
// The set of implementations is closed: *FetchModelAction and *ClientProvidedAction.
type BuildAction interface {
	Kind() ActionKind
	Start() StartParameters
	buildAction()
}

// FetchModelAction fetches a named model, optionally running tasks first.
type FetchModelAction struct {
	StartParameters      StartParameters `msgpack:"start_parameters" json:"start_parameters"`
	ModelName            string          `msgpack:"model_name" json:"model_name"`
	RunTasks             bool            `msgpack:"run_tasks" json:"run_tasks"`
	ListenToTestProgress bool            `msgpack:"listen_to_test_progress" json:"listen_to_test_progress"`
}

// Kind implements BuildAction.
func (a *FetchModelAction) Kind() ActionKind { return ActionKindFetchModel }

// Start implements BuildAction.
func (a *FetchModelAction) Start() StartParameters { return a.StartParameters }

func (a *FetchModelAction) buildAction() {}

// ClientProvidedAction runs an opaque client-serialized action inside the build.
// Payload is carried verbatim; the mediator never interprets it.
type ClientProvidedAction struct {
	StartParameters StartParameters `msgpack:"start_parameters" json:"start_parameters"`
	Payload         []byte          `msgpack:"payload" json:"payload"`
}

// Kind implements BuildAction.
func (a *ClientProvidedAction) Kind() ActionKind { return ActionKindClientProvided }

// Start implements BuildAction.
func (a *ClientProvidedAction) Start() StartParameters { return a.StartParameters }

func (a *ClientProvidedAction) buildAction() {}

// ActionEnvelope is the wire form of a BuildAction. Exactly one case is set.
type ActionEnvelope struct {
	Kind           ActionKind            `msgpack:"kind" json:"kind"`
	FetchModel     *FetchModelAction     `msgpack:"fetch_model,omitempty" json:"fetch_model,omitempty"`
	ClientProvided *ClientProvidedAction `msgpack:"client_provided,omitempty" json:"client_provided,omitempty"`
}

// WrapAction builds the wire envelope for a.
func WrapAction(a BuildAction) (ActionEnvelope, error) {
	switch v := a.(type) {
	case *FetchModelAction:
		return ActionEnvelope{Kind: ActionKindFetchModel, FetchModel: v}, nil
	case *ClientProvidedAction:
		return ActionEnvelope{Kind: ActionKindClientProvided, ClientProvided: v}, nil
	case nil:
		return ActionEnvelope{}, errors.New("nil build action")
	default:
		return ActionEnvelope{}, fmt.Errorf("unsupported build action %T", a)
	}
}

// Action returns the single active case of the envelope.
func (e *ActionEnvelope) Action() (BuildAction, error) {
	switch {
	case e.Kind == ActionKindFetchModel && e.FetchModel != nil && e.ClientProvided == nil:
		return e.FetchModel, nil
	case e.Kind == ActionKindClientProvided && e.ClientProvided != nil && e.FetchModel == nil:
		return e.ClientProvided, nil
	default:
		return nil, ProtocolMismatch(fmt.Sprintf("malformed action envelope (kind %q)", e.Kind))
	}
}

// BuildEnvironment describes the environment a build would run in.
// Answered locally from resolved configuration, without contacting a backend.
type BuildEnvironment struct {
	UserHome string   `msgpack:"user_home" json:"user_home"`
	Version  string   `msgpack:"version" json:"version"`
	JavaHome string   `msgpack:"java_home" json:"java_home"`
	JvmArgs  []string `msgpack:"jvm_args" json:"jvm_args"`
}
