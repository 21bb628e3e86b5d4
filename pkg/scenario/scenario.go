// Package scenario defines the typed configuration of test scenarios for the
// router's MQTT broker and Data-to-Server features.
//
// The same scenario drives configuration through a channel and is later used
// as the expectation when validating device state.
package scenario

import (
	"fmt"
	"strings"
)

// Feature names the router feature a scenario exercises.
type Feature string

const (
	// FeatureBroker is the on-device MQTT broker.
	FeatureBroker Feature = "mqtt_broker"
	// FeatureDTS is Data-to-Server forwarding.
	FeatureDTS Feature = "data_to_server"
)

// Channel names how configuration is applied to the router.
type Channel string

const (
	ChannelSSH Channel = "ssh"
	ChannelAPI Channel = "api"
	ChannelGUI Channel = "gui"
)

// Channels lists all channels in execution order.
var Channels = []Channel{ChannelSSH, ChannelAPI, ChannelGUI}

// ParseChannels expands a test type flag ("ssh", "api", "gui" or "all").
func ParseChannels(testType string) ([]Channel, error) {
	switch strings.ToLower(testType) {
	case "", "all":
		return append([]Channel(nil), Channels...), nil
	case string(ChannelSSH):
		return []Channel{ChannelSSH}, nil
	case string(ChannelAPI):
		return []Channel{ChannelAPI}, nil
	case string(ChannelGUI):
		return []Channel{ChannelGUI}, nil
	}
	return nil, fmt.Errorf("invalid test type %q (valid: ssh, api, gui, all)", testType)
}

// Scenario is one named configuration. Exactly one of Broker or DTS is set,
// according to Feature.
type Scenario struct {
	// Name identifies the scenario in result names.
	Name string

	// Feature is the exercised router feature.
	Feature Feature

	// Broker is the expected broker configuration.
	Broker *BrokerConfig

	// DTS is the expected Data-to-Server configuration.
	DTS *DTSConfig
}

// PluginName maps a data_config type to the data_sender input plugin.
func PluginName(dataType string) string {
	t := strings.ToLower(strings.TrimSpace(dataType))
	switch t {
	case "wifi scanner":
		return "wifiscan"
	case "modbus alarms":
		return "modbus_alarm"
	case "mnf info":
		return "mnfinfo"
	case "impulse counter":
		return "impulse_counter"
	case "mobile usage":
		return "mdcollect"
	case "lua script":
		return "lua"
	case "":
		return "base"
	}
	return t
}
