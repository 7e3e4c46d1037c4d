package config

import (
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/remotesync/pkg/errors"
)

// parseErrTemplate is shown when a config file can't be decoded. The yaml
// library loses the position of the error, so only its message is passed on.
const parseErrTemplate = "Failed to parse %q.\n" +
	"It must be a JSON (or YAML) document that only uses known fields, " +
	"spelled in camelCase (`remotePath`, not `remote_path`), " +
	"and each field must have the right type.\n\n" +
	"Parser error: %s"

func parseError(path string, err error) error {
	return errors.NewFriendlyError(parseErrTemplate, path, err)
}

// decodeStrict unmarshals a JSON or YAML document into out, and fails on
// fields that out doesn't declare.
func decodeStrict(path string, data []byte, out interface{}) error {
	if err := yaml.UnmarshalStrict(data, out, yaml.DisallowUnknownFields); err != nil {
		return parseError(path, err)
	}
	return nil
}

func readConfig(path string) ([]byte, error) {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: path}
		}
		return nil, errors.WithContext(err, "read file")
	}
	return configBytes, nil
}
