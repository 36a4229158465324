// Package provider is the request mediator: it resolves client parameters,
// builds the action, selects the executor chain, runs it, and unwraps the
// result.
package provider

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/pithecene-io/buildlink/daemon"
	"github.com/pithecene-io/buildlink/layout"
	"github.com/pithecene-io/buildlink/types"
)

// ResolvedConfiguration is the concrete configuration of one request.
// It is immutable once built; accessors return copies.
type ResolvedConfiguration struct {
	layout     layout.Layout
	properties layout.Properties
	daemon     *daemon.Parameters
}

// Layout returns the discovered layout.
func (c *ResolvedConfiguration) Layout() layout.Layout {
	return c.layout
}

// Properties returns a copy of the persisted properties.
func (c *ResolvedConfiguration) Properties() layout.Properties {
	return c.properties.Clone()
}

// DaemonParameters returns a copy of the effective daemon parameters.
func (c *ResolvedConfiguration) DaemonParameters() *daemon.Parameters {
	return c.daemon.Clone()
}

// BuildEnvironment describes the environment a build would run in, computed
// from the resolved configuration alone.
func (c *ResolvedConfiguration) BuildEnvironment() *types.BuildEnvironment {
	return &types.BuildEnvironment{
		UserHome: c.layout.UserHome,
		Version:  types.Version,
		JavaHome: c.daemon.JavaHome,
		JvmArgs:  slices.Clone(c.daemon.JvmArgs),
	}
}

// Resolver merges layout defaults, persisted properties and client overrides.
type Resolver struct {
	// EnvBindings maps property keys to environment overrides.
	// Default: daemon.EnvBindings.
	EnvBindings map[string]string
}

// Resolve builds the configuration for params. Environment and property files
// are read once per call; params is never mutated.
//
// Order:
//  1. Layout discovery (user home, search upwards, project dir, root dir)
//  2. Persisted properties, user home over root, environment over both
//  3. Daemon parameters derived from the properties
//  4. Client overrides: base dir, JVM args, Java home, idle timeout
func (r *Resolver) Resolve(params *types.OperationParameters) (*ResolvedConfiguration, error) {
	if params == nil {
		params = &types.OperationParameters{}
	}

	l, err := layout.Discover(params)
	if err != nil {
		return nil, err
	}

	bindings := r.EnvBindings
	if bindings == nil {
		bindings = daemon.EnvBindings
	}
	props, err := layout.LoadProperties(l, bindings)
	if err != nil {
		return nil, err
	}

	dp, err := daemon.FromProperties(l.UserHome, props)
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(dp, params); err != nil {
		return nil, err
	}

	return &ResolvedConfiguration{layout: l, properties: props, daemon: dp}, nil
}

// applyOverrides applies the client's explicit daemon overrides to p.
func applyOverrides(p *daemon.Parameters, params *types.OperationParameters) error {
	if params.DaemonBaseDir != nil {
		dir, err := filepath.Abs(*params.DaemonBaseDir)
		if err != nil {
			return types.Configuration("invalid daemon base directory", err)
		}
		p.BaseDir = dir
	}

	if len(params.JvmArguments) > 0 {
		p.JvmArgs = slices.Clone(params.JvmArguments)
	}

	if params.JavaHome != nil {
		if err := layout.ValidateDir("java home", *params.JavaHome); err != nil {
			return err
		}
		p.JavaHome = *params.JavaHome
	}

	if params.DaemonIdleTimeoutValue != nil && params.DaemonIdleTimeoutUnit != nil {
		value := *params.DaemonIdleTimeoutValue
		if value < 0 {
			return types.Configuration(fmt.Sprintf("negative daemon idle timeout %d", value), nil)
		}
		ms, err := params.DaemonIdleTimeoutUnit.ToMillis(value)
		if err != nil {
			return err
		}
		p.IdleTimeoutMs = ms
	}
	return nil
}
