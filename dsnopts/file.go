package dsnopts

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable
// values, for password/username fields callers would rather not commit to a
// YAML file in plaintext.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})
}

// LoadFile reads a YAML options file as an alternative to Parse's DSN
// string, applies env-var substitution, defaults, and validation, the same
// three-step shape as the teacher's config.Load.
func LoadFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dsnopts: reading %s: %w", path, err)
	}

	data = substituteEnvVars(data)

	opts := &Options{}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("dsnopts: parsing %s: %w", path, err)
	}

	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("dsnopts: %s: %w", path, err)
	}
	return opts, nil
}
