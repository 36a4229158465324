// Package layout discovers the build layout: the buildlink user home, the
// project directory, the build root, and the persisted build properties.
package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pithecene-io/buildlink/types"
)

// File names recognised in a build layout.
const (
	// SettingsFile marks the root of a multi-project build.
	SettingsFile = "buildlink.settings"
	// PropertiesFile holds persisted build properties.
	PropertiesFile = "buildlink.properties"
	// UserHomeEnv overrides the default user home directory.
	UserHomeEnv = "BUILDLINK_USER_HOME"
	// userHomeDirName is the user home directory under the OS home.
	userHomeDirName = ".buildlink"
)

// Layout is a discovered build layout.
type Layout struct {
	// UserHome is the buildlink user home directory.
	UserHome string
	// ProjectDir is the directory the request was issued for.
	ProjectDir string
	// RootDir is the build root; equals ProjectDir when no settings file was found.
	RootDir string
	// SearchUpwards records whether root discovery looked above ProjectDir.
	SearchUpwards bool
}

// Discover builds the layout for params. Absent values fall back to
// $BUILDLINK_USER_HOME or ~/.buildlink, search upwards, and the working directory.
func Discover(params *types.OperationParameters) (Layout, error) {
	var l Layout
	if params == nil {
		params = &types.OperationParameters{}
	}

	userHome, err := resolveUserHome(params.UserHomeDir)
	if err != nil {
		return Layout{}, err
	}
	l.UserHome = userHome

	l.SearchUpwards = true
	if params.SearchUpwards != nil {
		l.SearchUpwards = *params.SearchUpwards
	}

	if params.ProjectDir != nil {
		l.ProjectDir = *params.ProjectDir
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return Layout{}, types.Configuration("cannot determine working directory", err)
		}
		l.ProjectDir = wd
	}
	l.ProjectDir, err = filepath.Abs(l.ProjectDir)
	if err != nil {
		return Layout{}, types.Configuration("invalid project directory", err)
	}

	l.RootDir = FindRoot(l.ProjectDir, l.SearchUpwards)
	return l, nil
}

func resolveUserHome(override *string) (string, error) {
	if override != nil {
		if *override == "" {
			return "", types.Configuration("user home directory must not be empty", nil)
		}
		return filepath.Abs(*override)
	}
	if env := os.Getenv(UserHomeEnv); env != "" {
		return filepath.Abs(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", types.Configuration("cannot determine user home directory", err)
	}
	return filepath.Join(home, userHomeDirName), nil
}

// FindRoot returns the nearest directory at or above projectDir that holds a
// settings file. Without searchUpwards only projectDir itself is checked.
// Falls back to projectDir.
func FindRoot(projectDir string, searchUpwards bool) string {
	dir := projectDir
	for {
		if fileExists(filepath.Join(dir, SettingsFile)) {
			return dir
		}
		if !searchUpwards {
			return projectDir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return projectDir
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// PropertiesFiles lists the property files of l in increasing precedence.
func (l Layout) PropertiesFiles() []string {
	return []string{
		filepath.Join(l.RootDir, PropertiesFile),
		filepath.Join(l.UserHome, PropertiesFile),
	}
}

// ValidateDir checks that path is an absolute path to an existing directory.
func ValidateDir(what, path string) error {
	if !filepath.IsAbs(path) {
		return types.Configuration(fmt.Sprintf("%s %q is not an absolute path", what, path), nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.Configuration(fmt.Sprintf("%s %q does not exist", what, path), nil)
		}
		return types.Configuration(fmt.Sprintf("cannot access %s %q", what, path), err)
	}
	if !info.IsDir() {
		return types.Configuration(fmt.Sprintf("%s %q is not a directory", what, path), nil)
	}
	return nil
}
