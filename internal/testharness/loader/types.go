// Package loader reads the device configuration and the scenario files that
// drive a test run.
package loader

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rutlab/routertest/pkg/scenario"
)

// DeviceConfig describes the router under test and which scenarios to run
// against it.
type DeviceConfig struct {
	// Device identifies and addresses the router.
	Device Device `yaml:"device"`

	// MQTTScenarios lists broker scenario names, run first.
	MQTTScenarios []string `yaml:"mqtt_scenarios"`

	// DTSScenarios lists Data-to-Server scenario names.
	DTSScenarios []string `yaml:"dts_scenarios"`

	// Validation tunes post-configuration validation.
	Validation Validation `yaml:"validation"`
}

// Device identifies the router.
type Device struct {
	Name        string      `yaml:"name"`
	IP          string      `yaml:"ip"`
	Modem       string      `yaml:"modem"`
	Firmware    string      `yaml:"firmware"`
	Credentials Credentials `yaml:"credentials"`
	SSH         SSHConfig   `yaml:"ssh"`
}

// Credentials are the web UI and REST login.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SSHConfig overrides the SSH login. Empty fields fall back to Credentials.
type SSHConfig struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Port       int    `yaml:"port"`
	KnownHosts string `yaml:"known_hosts"`
}

// Address returns host:port for the SSH endpoint.
func (d Device) Address() string {
	port := d.SSH.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return d.IP + ":" + strconv.Itoa(port)
}

// Validation tunes post-configuration validation.
type Validation struct {
	RequireLiveness bool     `yaml:"require_liveness"`
	LivenessTimeout Duration `yaml:"liveness_timeout"`
	Timeout         Duration `yaml:"timeout"`
}

// DefaultSSHPort is used when the device config has no ssh.port.
const DefaultSSHPort = 22

// Duration accepts either a Go duration string ("1m30s") or a number of
// seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if secs, err := strconv.ParseFloat(node.Value, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Lookup is the result of resolving one scenario name.
//
// A missing file has Found false and no error. A file that exists but cannot
// be parsed has Found true and Err set.
type Lookup struct {
	Scenario *scenario.Scenario
	Found    bool
	Err      error
}

// LoadError represents an error loading a device config or scenario file.
type LoadError struct {
	File    string
	Line    int
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		if e.Line > 0 {
			msg = e.File + ":" + strconv.Itoa(e.Line) + ": " + msg
		} else {
			msg = e.File + ": " + msg
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
