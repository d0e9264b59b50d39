package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces the environment variables read by the loader.
const EnvPrefix = "KONTEXA_"

// LoadOption customizes configuration loading.
type LoadOption func(*loadOptions)

type loadOptions struct {
	filePath string
}

// WithFile layers a YAML configuration file over the defaults.
func WithFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.filePath = path
	}
}

// Load resolves configuration from defaults, an optional YAML file, and
// environment variables, in that precedence order (later wins).
func Load(opts ...LoadOption) (*Config, error) {
	options := &loadOptions{}
	for _, opt := range opts {
		opt(options)
	}
	cfg := Default()
	if options.filePath != "" {
		data, err := os.ReadFile(options.filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", options.filePath, err)
		}
		// Overlay onto defaults; keys absent from the file keep their default.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", options.filePath, err)
		}
	}
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key string, value string) (string, any) {
			return transformEnvKey(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	out := &Config{}
	if err := k.Unmarshal("", out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// nestedSections are second-level config sections; env segments after them
// address fields of the nested struct rather than the parent section.
var nestedSections = map[string]struct{}{
	"templates": {},
}

// transformEnvKey converts environment variable names to koanf paths.
// KNOWLEDGE_MIN_SCORE -> knowledge.min_score: the first segment selects the
// section, the remainder is the field name with underscores preserved.
// Nested sections get one more path hop: KNOWLEDGE_TEMPLATES_FOOTER ->
// knowledge.templates.footer.
func transformEnvKey(s string) string {
	s = strings.ToLower(s)
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_'
	})
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}
	if _, ok := nestedSections[parts[1]]; ok && len(parts) > 2 {
		return parts[0] + "." + parts[1] + "." + strings.Join(parts[2:], "_")
	}
	return parts[0] + "." + strings.Join(parts[1:], "_")
}
