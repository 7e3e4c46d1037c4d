package config

import (
	"fmt"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/remotesync/pkg/errors"
)

const (
	// UserConfigPath is the default path to the remotesync user settings.
	UserConfigPath = "~/.remotesync.yaml"

	// InitialUserConfigVersion is the first version of the user settings.
	// Settings files that do not specify a version will default to this
	// version.
	InitialUserConfigVersion = "v1alpha1"

	// SupportedUserConfigVersion is the version of the user settings
	// supported by this binary.
	SupportedUserConfigVersion = "v1alpha1"
)

// User contains per-user settings that apply across workspaces.
type User struct {
	Version string `json:"version,omitempty"`

	// Profile is the name of the profile used when --profile isn't given.
	Profile string `json:"profile,omitempty"`

	// LogFile, if set, receives the logs of long running commands.
	LogFile string `json:"logFile,omitempty"`

	// MetricsAddr, if set, is where `watch run` serves prometheus metrics.
	MetricsAddr string `json:"metricsAddr,omitempty"`
}

// unsupportedVersionError is returned for user settings written by a
// different release of remotesync.
type unsupportedVersionError struct {
	path, actual string
}

func (err unsupportedVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err unsupportedVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The settings in %q have version %q, but this release "+
		"of remotesync only reads version %q.\n"+
		"Run `remotesync config` to write them again.",
		err.path, err.actual, SupportedUserConfigVersion)
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// ParseUser parses the user settings stored in the default path. A missing
// file yields the zero settings.
func ParseUser() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config, err := parseUser(path)
	if err != nil {
		if errors.IsNotFound(err) {
			return User{Version: SupportedUserConfigVersion}, nil
		}
		return User{}, errors.WithContext(err, "parse")
	}

	config.LogFile, err = homedir.Expand(config.LogFile)
	if err != nil {
		return User{}, errors.WithContext(err, "expand log file path")
	}
	return config, nil
}

// parseUser checks the version before decoding strictly, so that settings
// from another release fail with a version error rather than a complaint
// about unknown fields.
func parseUser(path string) (User, error) {
	configBytes, err := readConfig(path)
	if err != nil {
		return User{}, err
	}

	var versioned struct {
		Version string `json:"version"`
	}
	if err := yaml.Unmarshal(configBytes, &versioned); err != nil {
		return User{}, parseError(path, err)
	}
	if versioned.Version != "" && versioned.Version != SupportedUserConfigVersion {
		return User{}, unsupportedVersionError{path: path, actual: versioned.Version}
	}

	config := User{Version: InitialUserConfigVersion}
	if err := decodeStrict(path, configBytes, &config); err != nil {
		return User{}, err
	}
	return config, nil
}

// WriteUser writes the given user settings to disk.
func WriteUser(cfg User) error {
	cfg.Version = SupportedUserConfigVersion
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// GetUserConfigPath returns the path to the user settings. This path is
// expanded, so it can be directly passed to file operations.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}
