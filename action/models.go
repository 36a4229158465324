package action

import (
	"strings"

	"github.com/pithecene-io/buildlink/types"
)

// Canonical model identifiers understood by the build tool.
const (
	ModelBuildEnvironment    = types.BuildEnvironmentModel
	ModelProject             = "Project"
	ModelBuildInvocations    = "BuildInvocations"
	ModelProjectOutcomes     = "ProjectOutcomes"
	ModelProjectPublications = "ProjectPublications"
)

// ModelMapping maps client model names and aliases to canonical identifiers.
type ModelMapping struct {
	aliases map[string]string
}

// NewModelMapping returns a mapping with the given alias table. Lookups are
// case-insensitive; canonical names always map to themselves.
func NewModelMapping(aliases map[string]string) *ModelMapping {
	m := &ModelMapping{aliases: make(map[string]string, len(aliases)*2)}
	for alias, canonical := range aliases {
		m.aliases[strings.ToLower(alias)] = canonical
		m.aliases[strings.ToLower(canonical)] = canonical
	}
	return m
}

// DefaultModels is the built-in model mapping.
var DefaultModels = NewModelMapping(map[string]string{
	"build-environment": ModelBuildEnvironment,
	"build_environment": ModelBuildEnvironment,
	"environment":       ModelBuildEnvironment,
	"project":           ModelProject,
	"invocations":       ModelBuildInvocations,
	"tasks":             ModelBuildInvocations,
	"outcomes":          ModelProjectOutcomes,
	"publications":      ModelProjectPublications,
})

// Canonical returns the canonical identifier of name. Unknown names are
// returned unchanged; the build tool decides whether it can produce them.
func (m *ModelMapping) Canonical(name string) string {
	if c, ok := m.aliases[strings.ToLower(name)]; ok {
		return c
	}
	return name
}

// IsBuildEnvironment reports whether name resolves to the build environment model.
func (m *ModelMapping) IsBuildEnvironment(name string) bool {
	return name != types.NullModel && m.Canonical(name) == ModelBuildEnvironment
}

// Known reports whether name resolves to a built-in model.
func (m *ModelMapping) Known(name string) bool {
	_, ok := m.aliases[strings.ToLower(name)]
	return ok
}
