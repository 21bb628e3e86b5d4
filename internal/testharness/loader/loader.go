package loader

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rutlab/routertest/pkg/scenario"
)

// ScenarioExtensions are tried in order when resolving a scenario name.
var ScenarioExtensions = []string{".json", ".yaml", ".yml"}

var yamlLine = regexp.MustCompile(`line (\d+)`)

// DeviceOption adjusts device config validation.
type DeviceOption func(*deviceOptions)

type deviceOptions struct {
	optionalIP bool
}

// OptionalIP accepts a config without device.ip. The caller fills it in,
// for example from discovery.
func OptionalIP() DeviceOption {
	return func(o *deviceOptions) { o.optionalIP = true }
}

// ParseDeviceConfig parses a device config from JSON or YAML bytes.
func ParseDeviceConfig(data []byte, opts ...DeviceOption) (*DeviceConfig, error) {
	var o deviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	var cfg DeviceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, parseError("failed to parse device config", err)
	}

	required := []struct {
		field string
		value string
	}{
		{"device.name", cfg.Device.Name},
		{"device.ip", cfg.Device.IP},
		{"device.credentials.username", cfg.Device.Credentials.Username},
		{"device.credentials.password", cfg.Device.Credentials.Password},
	}
	for _, r := range required {
		if r.field == "device.ip" && o.optionalIP {
			continue
		}
		if strings.TrimSpace(r.value) == "" {
			return nil, &LoadError{Message: "missing required field: " + r.field}
		}
	}

	if cfg.Device.SSH.Username == "" {
		cfg.Device.SSH.Username = cfg.Device.Credentials.Username
	}
	if cfg.Device.SSH.Password == "" {
		cfg.Device.SSH.Password = cfg.Device.Credentials.Password
	}
	if cfg.Device.SSH.Port == 0 {
		cfg.Device.SSH.Port = DefaultSSHPort
	}
	return &cfg, nil
}

// LoadDeviceConfig loads and validates a device config file.
func LoadDeviceConfig(path string, opts ...DeviceOption) (*DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := ParseDeviceConfig(data, opts...)
	if err != nil {
		return nil, withFile(err, path)
	}
	return cfg, nil
}

type envelope struct {
	ScenarioName string    `yaml:"scenario_name"`
	Config       yaml.Node `yaml:"config"`
}

// ParseScenario parses a scenario document. The document is either the
// `{scenario_name, config}` envelope or a bare config object. fallbackName
// is used when the document has no scenario_name.
func ParseScenario(data []byte, fallbackName string, feature scenario.Feature) (*scenario.Scenario, error) {
	var env envelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, parseError("failed to parse scenario", err)
	}

	body := &env.Config
	if body.Kind == 0 {
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, parseError("failed to parse scenario", err)
		}
		if len(doc.Content) == 0 {
			return nil, &LoadError{Message: "scenario file is empty"}
		}
		body = doc.Content[0]
	}
	if body.Kind != yaml.MappingNode {
		return nil, &LoadError{Line: body.Line, Message: "scenario config must be an object"}
	}

	sc := &scenario.Scenario{Name: env.ScenarioName, Feature: feature}
	if sc.Name == "" {
		sc.Name = fallbackName
	}

	switch feature {
	case scenario.FeatureBroker:
		sc.Broker = &scenario.BrokerConfig{}
		if err := body.Decode(sc.Broker); err != nil {
			return nil, parseError("invalid broker config", err)
		}
	case scenario.FeatureDTS:
		sc.DTS = &scenario.DTSConfig{}
		if err := body.Decode(sc.DTS); err != nil {
			return nil, parseError("invalid data_to_server config", err)
		}
	default:
		return nil, &LoadError{Message: "unknown feature " + strconv.Quote(string(feature))}
	}
	return sc, nil
}

// LoadScenario resolves name inside dir by trying each of
// ScenarioExtensions in turn.
func LoadScenario(dir, name string, feature scenario.Feature) Lookup {
	for _, ext := range ScenarioExtensions {
		path := filepath.Join(dir, name+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Lookup{Found: true, Err: &LoadError{File: path, Message: "failed to read file", Cause: err}}
		}
		sc, err := ParseScenario(data, name, feature)
		if err != nil {
			return Lookup{Found: true, Err: withFile(err, path)}
		}
		return Lookup{Scenario: sc, Found: true}
	}
	return Lookup{}
}

// LoadScenarios loads every scenario cfg names: broker scenarios first, then
// Data-to-Server scenarios, each in config order. Missing and invalid files
// are logged and skipped.
func LoadScenarios(dir string, cfg *DeviceConfig, logger *slog.Logger) []*scenario.Scenario {
	if logger == nil {
		logger = slog.Default()
	}

	var out []*scenario.Scenario
	load := func(names []string, feature scenario.Feature) {
		for _, name := range names {
			res := LoadScenario(dir, name, feature)
			switch {
			case !res.Found:
				logger.Warn("scenario not found", "name", name, "feature", feature, "dir", dir)
			case res.Err != nil:
				logger.Error("scenario skipped", "name", name, "feature", feature, "error", res.Err)
			default:
				out = append(out, res.Scenario)
			}
		}
	}
	load(cfg.MQTTScenarios, scenario.FeatureBroker)
	load(cfg.DTSScenarios, scenario.FeatureDTS)
	return out
}

func parseError(msg string, err error) *LoadError {
	le := &LoadError{Message: msg, Cause: err}
	if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
		le.Line, _ = strconv.Atoi(m[1])
	}
	return le
}

func withFile(err error, path string) error {
	var le *LoadError
	if errors.As(err, &le) {
		le.File = path
		return le
	}
	return &LoadError{File: path, Message: err.Error()}
}
