package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/remotesync/pkg/errors"
)

// FileName is the name of the workspace config file.
const FileName = ".remotesync.json"

// Protocols supported by Dial.
const (
	ProtocolSFTP  = "sftp"
	ProtocolFTP   = "ftp"
	ProtocolS3    = "s3"
	ProtocolLocal = "local"
)

// Profile describes one remote and how to sync with it.
type Profile struct {
	Name     string `json:"name,omitempty"`
	Context  string `json:"context,omitempty"`
	Protocol string `json:"protocol,omitempty"`

	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	PrivateKeyPath string `json:"privateKeyPath,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
	Agent          string `json:"agent,omitempty"`
	Secure         Secure `json:"secure,omitempty"`
	ConnectTimeout int    `json:"connectTimeout,omitempty"`

	// S3 only.
	Bucket    string `json:"bucket,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PathStyle bool   `json:"pathStyle,omitempty"`

	RemotePath   string     `json:"remotePath,omitempty"`
	UploadOnSave bool       `json:"uploadOnSave,omitempty"`
	Concurrency  int        `json:"concurrency,omitempty"`
	SyncOption   SyncOption `json:"syncOption,omitempty"`
	Ignore       []string   `json:"ignore,omitempty"`
	IgnoreFile   string     `json:"ignoreFile,omitempty"`
	Watcher      Watcher    `json:"watcher,omitempty"`
}

// SyncOption adjusts the behavior of the sync commands.
type SyncOption struct {
	Delete         bool `json:"delete,omitempty"`
	SkipCreate     bool `json:"skipCreate,omitempty"`
	IgnoreExisting bool `json:"ignoreExisting,omitempty"`
	Update         bool `json:"update,omitempty"`
}

// Watcher configures automatic uploads of local changes.
type Watcher struct {
	Files      FileList `json:"files,omitempty"`
	AutoUpload bool     `json:"autoUpload,omitempty"`
	AutoDelete bool     `json:"autoDelete,omitempty"`
}

// FileList is a list of watched patterns. A single pattern may be written as
// a plain string.
type FileList []string

// UnmarshalJSON accepts both a string and a list of strings.
func (l *FileList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	var pattern string
	if err := json.Unmarshal(b, &pattern); err == nil {
		*l = FileList{pattern}
		return nil
	}

	var patterns []string
	if err := json.Unmarshal(b, &patterns); err != nil {
		return err
	}
	*l = patterns
	return nil
}

// Secure selects FTP over TLS. It's written either as a boolean or as one of
// "control" or "implicit".
type Secure string

// UnmarshalJSON accepts both the boolean and string forms.
func (s *Secure) UnmarshalJSON(b []byte) error {
	var enabled bool
	if err := json.Unmarshal(b, &enabled); err == nil {
		*s = ""
		if enabled {
			*s = "control"
		}
		return nil
	}

	var mode string
	if err := json.Unmarshal(b, &mode); err != nil {
		return err
	}
	*s = Secure(mode)
	return nil
}

// Timeout returns the connect timeout as a duration.
func (p Profile) Timeout() time.Duration {
	return time.Duration(p.ConnectTimeout) * time.Millisecond
}

// LocalRoot returns the local directory that the profile syncs, given the
// workspace root.
func (p Profile) LocalRoot(workspace string) string {
	if filepath.IsAbs(p.Context) {
		return p.Context
	}
	return filepath.Join(workspace, p.Context)
}

var defaultProfile = Profile{
	Context:        ".",
	Protocol:       ProtocolSFTP,
	RemotePath:     "./",
	Concurrency:    4,
	ConnectTimeout: 10 * 1000,
}

var defaultPorts = map[string]int{
	ProtocolSFTP: 22,
	ProtocolFTP:  21,
}

// MergeWithDefaults fills every unset field of partial with its default.
func MergeWithDefaults(partial Profile) (Profile, error) {
	if err := mergo.Merge(&partial, defaultProfile); err != nil {
		return Profile{}, errors.WithContext(err, "merge defaults")
	}

	if partial.Port == 0 {
		partial.Port = defaultPorts[partial.Protocol]
	}
	return partial, nil
}

// Validate checks the fields that the sync engine depends on.
func (p Profile) Validate() error {
	switch p.Protocol {
	case ProtocolSFTP, ProtocolFTP:
		if p.Host == "" {
			return errors.ConfigInvalid{Field: "host", Reason: "required for " + p.Protocol}
		}
		if p.Port <= 0 || p.Port > 65535 {
			return errors.ConfigInvalid{Field: "port", Reason: "must be between 1 and 65535"}
		}
	case ProtocolS3:
		if p.Bucket == "" {
			return errors.ConfigInvalid{Field: "bucket", Reason: "required for s3"}
		}
	case ProtocolLocal:
	default:
		return errors.ConfigInvalid{Field: "protocol",
			Reason: "must be one of sftp, ftp, s3 or local"}
	}

	switch p.Secure {
	case "", "control", "implicit":
	default:
		return errors.ConfigInvalid{Field: "secure",
			Reason: `must be true, false, "control" or "implicit"`}
	}

	if p.RemotePath == "" {
		return errors.ConfigInvalid{Field: "remotePath", Reason: "required"}
	}
	if p.Concurrency < 1 {
		return errors.ConfigInvalid{Field: "concurrency", Reason: "must be positive"}
	}
	if p.ConnectTimeout < 0 {
		return errors.ConfigInvalid{Field: "connectTimeout", Reason: "must not be negative"}
	}
	return nil
}

// Path returns the path of the config file in the given workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, FileName)
}

// Load reads every profile from the workspace config, fills in defaults and
// validates them.
func Load(workspace string) ([]Profile, error) {
	path := Path(workspace)
	configBytes, err := readConfig(path)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewFriendlyError("No config file was found at %q.\n"+
				"Run `remotesync config init` to create one.", path)
		}
		return nil, err
	}

	raw, err := decodeProfiles(path, configBytes)
	if err != nil {
		return nil, err
	}

	var profiles []Profile
	for i, partial := range raw {
		profile, err := MergeWithDefaults(partial)
		if err != nil {
			return nil, err
		}

		if err := profile.Validate(); err != nil {
			return nil, errors.WithContext(err, fmt.Sprintf("profile %d", i))
		}

		if profile.PrivateKeyPath, err = homedir.Expand(profile.PrivateKeyPath); err != nil {
			return nil, errors.WithContext(err, "expand privateKeyPath")
		}
		if profile.IgnoreFile, err = homedir.Expand(profile.IgnoreFile); err != nil {
			return nil, errors.WithContext(err, "expand ignoreFile")
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// decodeProfiles accepts either a single profile or a list of profiles.
func decodeProfiles(path string, configBytes []byte) ([]Profile, error) {
	var profiles []Profile
	if bytes.HasPrefix(bytes.TrimSpace(configBytes), []byte("[")) {
		if err := decodeStrict(path, configBytes, &profiles); err != nil {
			return nil, err
		}
	} else {
		var profile Profile
		if err := decodeStrict(path, configBytes, &profile); err != nil {
			return nil, err
		}
		profiles = []Profile{profile}
	}

	if len(profiles) == 0 {
		return nil, errors.ConfigInvalid{Field: "profiles", Reason: "at least one is required"}
	}
	return profiles, nil
}

// Select returns the profile with the given name. An empty name selects the
// first profile.
func Select(profiles []Profile, name string) (Profile, error) {
	if len(profiles) == 0 {
		return Profile{}, errors.ConfigInvalid{Field: "profiles", Reason: "at least one is required"}
	}

	if name == "" {
		return profiles[0], nil
	}

	for _, profile := range profiles {
		if profile.Name == name {
			return profile, nil
		}
	}
	return Profile{}, errors.NewFriendlyError("No profile named %q exists.", name)
}

// starterProfile is written by WriteStarter.
var starterProfile = Profile{
	Name:         "My Server",
	Host:         "localhost",
	Protocol:     ProtocolSFTP,
	Port:         22,
	Username:     "username",
	RemotePath:   "/",
	UploadOnSave: true,
}

// WriteStarter creates a config file with placeholder values in the
// workspace. It refuses to overwrite an existing config.
func WriteStarter(workspace string) (string, error) {
	path := Path(workspace)
	if _, err := fs.Stat(path); err == nil {
		return "", errors.NewFriendlyError("A config file already exists at %q.", path)
	}

	configBytes, err := json.MarshalIndent(starterProfile, "", "  ")
	if err != nil {
		return "", errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, append(configBytes, '\n'), 0644); err != nil {
		return "", errors.WithContext(err, "write")
	}
	return path, nil
}
