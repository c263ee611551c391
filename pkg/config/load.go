package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
)

// Load reads a YAML config file over Default(), expanding ${VAR} and
// ${VAR:-default} references before parsing. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errdefs.New(errdefs.KindNotFound, "config file not found: %s", path)
			}
			return nil, errdefs.Wrap(errdefs.KindInvalidInput, err, "cannot read config file")
		}
		if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
			return nil, errdefs.Wrap(errdefs.KindInvalidInput, err, "invalid YAML in "+path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv substitutes ${VAR} and ${VAR:-default}. Unset variables
// without a default expand to the empty string; required values then fail
// at validation instead of here.
func expandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		return groups[2]
	})
}
