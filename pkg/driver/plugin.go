package driver

import (
	"strings"

	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
)

// DataPlugin builds the data plugin body of a collection.
func DataPlugin(instance string, data *scenario.DataConfig) map[string]any {
	typ := data.Type.Or("Base")
	out := map[string]any{
		".type":   uci.TypeInput,
		"plugin":  scenario.PluginName(typ),
		"name":    "input_" + instance,
		"members": scenario.Texts(data.Values),
	}
	switch format := strings.ToLower(data.FormatType.Or("json")); format {
	case "custom":
		out["format"] = "custom"
		out["format_str"] = data.FormatString.String()
		out["na_str"] = data.EmptyValue.String()
		out["delimiter"] = data.Delimiter.String()
	case "lua script":
		out["format"] = "lua"
	default:
		out["format"] = format
	}

	s := data.TypeSettings
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "bluetooth":
		if macs := s.List("mac_address"); len(macs) > 0 {
			out["bl_filter"] = "mac"
			out["bl_filter_mac"] = macs
		}
		putIf(out, "bl_segments", s, "segment_count")
		out["bl_object"] = flagOf(s.Bool("send_as_object"))
	case "impulse counter":
		out["impulse_counter_filter"] = "pin"
		pins := s.List("impulse_counter_pin")
		if len(pins) == 0 {
			pins = []string{"Input (3)"}
		}
		names := make([]string, len(pins))
		for i, p := range pins {
			names[i] = pinFor(p).name
		}
		out["impulse_counter_filter_pin"] = names
		out["impulse_counter_filter_invert"] = flagOf(s.Bool("invert_filter"))
		putIf(out, "impulse_counter_segments", s, "max_segment_count")
		out["impulse_counter_object"] = flagOf(s.Bool("send_as_object"))
	case "mobile usage":
		if s.Has("data_period") {
			out["mdc_period"] = strings.ToLower(s.String("data_period"))
		}
		if s.Has("current") {
			out["mdc_current"] = flagOf(s.Bool("current"))
		}
		if s.Has("SIM_number") {
			out["mdc_sim"] = strings.TrimSpace(strings.ReplaceAll(s.String("SIM_number"), "SIM", ""))
		}
	case "modbus":
		if rule, ok := findFilter(modbusFilters, s.String("data_filtering")); ok {
			out["modbus_filter"] = rule.mode
			if values := s.List(rule.setting); len(values) > 0 {
				if rule.mode == "ip" {
					out[rule.option] = values[0]
				} else {
					out[rule.option] = values
				}
			}
		}
		putIf(out, "modbus_segments", s, "segment_count")
		out["modbus_object"] = flagOf(s.Bool("send_as_object"))
	case "modbus alarms":
		if rule, ok := findFilter(modbusAlarmFilters, s.String("data_filtering")); ok {
			out["modbus_alarm_filter"] = rule.mode
			if values := s.List(rule.setting); len(values) > 0 {
				out[rule.option] = values
			}
		}
	case "mqtt":
		mqttPlugin(out, s)
	case "wifi scanner":
		switch rule, _ := findFilter(wifiFilters, s.String("data_filtering")); rule.mode {
		case "signal":
			out["wifi_filter"] = "signal"
			v := s.List("signal_strength")
			v = append(v, "", "")
			out["wifi_filter_signal"] = []string{v[0], v[1], "-10", "-1"}
		case "mac", "name":
			out["wifi_filter"] = rule.mode
			if values := s.List(rule.setting); len(values) > 0 {
				out[rule.option] = values
			}
		}
		putIf(out, "wifi_segments", s, "segment_count")
		out["wifi_object"] = flagOf(s.Bool("send_as_object"))
	}
	return out
}

func mqttPlugin(out map[string]any, s scenario.Settings) {
	out["mqtt_in_host"] = s.StringOr("server_address", "localhost")
	out["mqtt_in_port"] = s.StringOr("port", "1338")
	out["mqtt_in_topic"] = s.StringOr("topic", "test")
	out["mqtt_in_client_id"] = s.StringOr("client_id", "client")
	out["mqtt_in_qos"] = s.StringOr("QoS", "0")
	out["mqtt_in_keepalive"] = s.StringOr("keepalive", "60")
	if s.Bool("enable_secure_connection") {
		sc := s.Map("secure_connection")
		fromDevice := sc.Bool("certificate_files_from_device")
		out["mqtt_in_tls"] = "1"
		out["mqtt_in_tls_type"] = "cert"
		out["mqtt_in_insecure"] = flagOf(sc.Bool("allow_insecure_connection"))
		out["mqtt_device_files"] = flagOf(fromDevice)
		files := sc
		if dev := sc.Map("device_certificates"); fromDevice && dev != nil {
			files = dev
		}
		putIf(out, "mqtt_in_cafile", files, "certificate_authority_file")
		putIf(out, "mqtt_in_certfile", files, "client_certificate")
		putIf(out, "mqtt_in_keyfile", files, "client_private_keyfile")
	}
	if s.Has("username") && s.Has("password") {
		out["mqtt_in_username"] = s.String("username")
		out["mqtt_in_password"] = s.String("password")
	}
}

func putIf(out map[string]any, option string, s scenario.Settings, key string) {
	if s.Has(key) {
		out[option] = s.String(key)
	}
}
