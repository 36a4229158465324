// Package action converts client requests into build actions.
//
// The builders here are pure: they allocate and validate, and perform no I/O.
package action

import (
	"maps"
	"slices"

	"github.com/pithecene-io/buildlink/layout"
	"github.com/pithecene-io/buildlink/types"
)

// Validation messages.
const (
	MsgNoModelOrTasks       = "no model type or tasks specified"
	MsgTasksWithEnvironment = "cannot run tasks and fetch the build environment model"
	MsgEmptyPayload         = "client action payload is empty"
)

// Validate checks that a model request is well formed.
func Validate(modelName string, params *types.OperationParameters) error {
	if modelName == types.NullModel && !params.HasTasks() {
		return types.InvalidRequest(MsgNoModelOrTasks)
	}
	if DefaultModels.IsBuildEnvironment(modelName) && params.HasTasks() {
		return types.InvalidRequest(MsgTasksWithEnvironment)
	}
	return nil
}

// ConvertStartParameters derives the start parameters carried by every action.
// The returned value shares nothing with params or properties.
func ConvertStartParameters(l layout.Layout, params *types.OperationParameters, properties layout.Properties) types.StartParameters {
	sp := types.StartParameters{
		ProjectDir:    l.ProjectDir,
		RootDir:       l.RootDir,
		UserHome:      l.UserHome,
		SearchUpwards: l.SearchUpwards,
		Tasks:         params.TaskList(),
		Properties:    maps.Clone(map[string]string(properties)),
	}
	if params != nil {
		sp.Arguments = slices.Clone(params.Arguments)
	}
	return sp
}

// BuildModel builds a fetch-model action for modelName.
//
// Tasks run iff a task list was supplied. Test progress is requested iff a
// listener is present and subscribed to test progress events.
func BuildModel(modelName string, l layout.Layout, params *types.OperationParameters, properties layout.Properties) (*types.FetchModelAction, error) {
	if err := Validate(modelName, params); err != nil {
		return nil, err
	}
	var listener types.ProgressListener
	if params != nil {
		listener = params.ProgressListener
	}
	return &types.FetchModelAction{
		StartParameters:      ConvertStartParameters(l, params, properties),
		ModelName:            DefaultModels.Canonical(modelName),
		RunTasks:             params.HasTasks(),
		ListenToTestProgress: types.Subscribes(listener, types.EventKindTestProgress),
	}, nil
}

// BuildClientAction wraps a client-serialized action. The payload is copied
// and never interpreted.
func BuildClientAction(payload []byte, l layout.Layout, params *types.OperationParameters, properties layout.Properties) (*types.ClientProvidedAction, error) {
	if len(payload) == 0 {
		return nil, types.InvalidRequest(MsgEmptyPayload)
	}
	return &types.ClientProvidedAction{
		StartParameters: ConvertStartParameters(l, params, properties),
		Payload:         slices.Clone(payload),
	}, nil
}
