package layout

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/pithecene-io/buildlink/types"
)

// Properties are persisted build properties, keyed by lower-case dotted name.
type Properties map[string]string

// Get returns the value of key and whether it was set.
func (p Properties) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Clone returns an independent copy of p.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// LoadProperties reads the property files of l, later files overriding
// earlier ones, then applies environment overrides. envBindings maps a
// property key to the environment variable that overrides it.
// Missing files are skipped.
func LoadProperties(l Layout, envBindings map[string]string) (Properties, error) {
	v := viper.New()
	v.SetConfigType("properties")

	loaded := false
	for _, path := range l.PropertiesFiles() {
		if !fileExists(path) {
			continue
		}
		v.SetConfigFile(path)
		var err error
		if loaded {
			err = v.MergeInConfig()
		} else {
			err = v.ReadInConfig()
		}
		if err != nil {
			return nil, types.Configuration(fmt.Sprintf("cannot read properties file %s", path), err)
		}
		loaded = true
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, types.Configuration(fmt.Sprintf("cannot bind %s to %s", key, env), err)
		}
	}

	props := make(Properties)
	for _, key := range v.AllKeys() {
		if !v.IsSet(key) {
			continue
		}
		props[key] = v.GetString(key)
	}
	return props, nil
}
