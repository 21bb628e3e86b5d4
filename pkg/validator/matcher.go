package validator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rutlab/routertest/pkg/probe"
	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
)

// Broker check names.
const (
	CheckBrokerEnabled    = "mqtt_broker_enabled"
	CheckPortCorrect      = "mqtt_port_correct"
	CheckAnonymousEnabled = "mqtt_anonymous_enabled"
	CheckProcessRunning   = "mqtt_process_running"
)

// Data-to-Server check names.
const (
	CheckNameCorrect     = "dts_name_correct"
	CheckDTSEnabled      = "dts_enabled"
	CheckServerCorrect   = "mqtt_server_correct"
	CheckTopicCorrect    = "mqtt_topic_correct"
	CheckClientIDCorrect = "mqtt_client_id_correct"
	CheckQoSCorrect      = "mqtt_qos_correct"
	CheckMessageReceived = "mqtt_message_received"
)

const (
	brokerPackage = "mosquitto"
	brokerSection = "mqtt"
	dtsPackage    = "data_sender"
)

// ProcessListed reports whether ps output lists a process named name.
// The grep that filtered the listing matches itself and is ignored.
func ProcessListed(psOutput, name string) bool {
	for _, line := range strings.Split(psOutput, "\n") {
		if !strings.Contains(line, name) || isGrepLine(line) {
			continue
		}
		return true
	}
	return false
}

func isGrepLine(line string) bool {
	for _, f := range strings.Fields(line) {
		if f == "grep" || strings.HasSuffix(f, "/grep") {
			return true
		}
	}
	return false
}

// Truthy reports whether a UCI flag value is set. Only "1" counts.
func Truthy(v string) bool {
	return v == "1"
}

// MatchBroker compares the mosquitto configuration and process state with
// expected.
func MatchBroker(ctx context.Context, r *uci.Runner, expected *scenario.BrokerConfig) *SubsystemResult {
	if expected == nil {
		expected = &scenario.BrokerConfig{}
	}
	expectedPort := expected.ExpectedPort()

	rawEnabled, enabled, err := r.ShowValue(ctx, uci.Loc(brokerPackage, brokerSection, "enabled"))
	if err != nil {
		return errorResult(err)
	}
	rawPort, port, err := r.ShowValue(ctx, uci.Loc(brokerPackage, brokerSection, "local_port"))
	if err != nil {
		return errorResult(err)
	}
	rawAnon, anon, err := r.ShowValue(ctx, uci.Loc(brokerPackage, brokerSection, "anonymous_access"))
	if err != nil {
		return errorResult(err)
	}
	process, err := r.Query(ctx, uci.ProcessGrepCmd("mosquitto"))
	if err != nil {
		return errorResult(err)
	}

	res := newSubsystemResult()
	res.Checks[CheckBrokerEnabled] = Truthy(enabled.String())
	res.Checks[CheckPortCorrect] = port.Contains(expectedPort)
	res.Checks[CheckAnonymousEnabled] = Truthy(anon.String())
	res.Checks[CheckProcessRunning] = ProcessListed(process, "mosquitto")

	res.Raw["mqtt_enabled"] = rawEnabled
	res.Raw["mqtt_port"] = rawPort
	res.Raw["mqtt_port_value"] = port.String()
	res.Raw["expected_port"] = expectedPort
	res.Raw["mqtt_anonymous"] = rawAnon
	res.Raw["mqtt_process"] = process

	if !res.Checks[CheckBrokerEnabled] {
		res.Failures = append(res.Failures, "MQTT broker not enabled")
	}
	if !res.Checks[CheckPortCorrect] {
		res.Failures = append(res.Failures, fmt.Sprintf("port (expected %s, got %s)", expectedPort, port.String()))
	}
	if !res.Checks[CheckAnonymousEnabled] {
		res.Failures = append(res.Failures, "anonymous access not enabled")
	}
	if !res.Checks[CheckProcessRunning] {
		res.Failures = append(res.Failures, "MQTT process not running")
	}
	res.Success = len(res.Failures) == 0
	return res
}

// dtsExpectation holds the expected values with defaults applied.
type dtsExpectation struct {
	instance string
	server   string
	port     string
	topic    string
	clientID string
	qos      string
	probe    bool
}

func expectDTS(c *scenario.DTSConfig) dtsExpectation {
	srv := c.Server()
	return dtsExpectation{
		instance: c.Instance(),
		server:   srv.ServerAddress.Or(scenario.DefaultServerAddress),
		port:     srv.Port.Or(scenario.DefaultMQTTPort),
		topic:    srv.Topic.Or(scenario.DefaultTopic),
		clientID: srv.ClientID.Or(scenario.DefaultClientID),
		qos:      srv.QoS.Or(scenario.DefaultQoS),
		probe:    !srv.IsZero(),
	}
}

// MatchDTS resolves the pipeline of the expected instance and compares its
// collection and output sections with expected. When the scenario carries a
// server config and prober is non-nil, it also waits for one message on the
// expected topic.
func MatchDTS(ctx context.Context, r *uci.Runner, resolver *uci.Resolver, expected *scenario.DTSConfig, prober probe.Prober, opts Options) *SubsystemResult {
	if expected == nil {
		expected = &scenario.DTSConfig{}
	}
	if resolver == nil {
		resolver = uci.NewResolver(uci.DefaultStrategies(uci.RunnerTypeLookup(r, dtsPackage))...)
	}
	logger := opts.logger()
	want := expectDTS(expected)

	table, err := r.Show(ctx, dtsPackage)
	if err != nil {
		if !uci.IsExitError(err) {
			return errorResult(err)
		}
		logger.Warn("reading data_sender failed, resolving on an empty table", slog.Any("error", err))
		table = uci.NewTable(dtsPackage)
	}
	resolution := resolver.Resolve(ctx, table, want.instance)
	sec := resolution.Sections
	if resolution.Degraded {
		logger.Info("no pipeline found by name or reference, using fallback sections",
			slog.String("instance", want.instance),
			slog.Any("sections", sec))
	}

	res := newSubsystemResult()
	res.Raw["sections"] = sec
	res.Raw["strategy"] = resolution.Strategy
	res.Raw["degraded"] = resolution.Degraded

	show := func(section, option, rawKey string) (string, error) {
		if section == "" {
			res.Raw[rawKey] = ""
			return "", nil
		}
		raw, v, err := r.ShowValue(ctx, uci.Loc(dtsPackage, section, option))
		if err != nil {
			return "", err
		}
		res.Raw[rawKey] = raw
		return v.String(), nil
	}

	name, err := show(sec.Collection, "name", "dts_instance")
	if err != nil {
		return errorResult(err)
	}
	enabled, err := show(sec.Collection, "enabled", "dts_enabled")
	if err != nil {
		return errorResult(err)
	}
	var timer string
	if sec.Collection != "" {
		timer = r.GetOr(ctx, uci.Loc(dtsPackage, sec.Collection, "timer"), "")
	}
	res.Raw["dts_timer"] = timer
	if timer == scenario.TimerPeriod {
		_, err = show(sec.Collection, "period", "dts_period")
	} else {
		_, err = show(sec.Collection, "time", "dts_scheduler")
	}
	if err != nil {
		return errorResult(err)
	}

	server, err := show(sec.Output, "mqtt_host", "mqtt_server")
	if err != nil {
		return errorResult(err)
	}
	topic, err := show(sec.Output, "mqtt_topic", "mqtt_topic")
	if err != nil {
		return errorResult(err)
	}
	clientID, err := show(sec.Output, "mqtt_client_id", "mqtt_client_id")
	if err != nil {
		return errorResult(err)
	}
	qos, err := show(sec.Output, "mqtt_qos", "mqtt_qos")
	if err != nil {
		return errorResult(err)
	}

	probed := want.probe && prober != nil
	received := false
	if probed {
		target := probe.Target{Host: want.server, Port: want.port, Topic: want.topic}
		received = prober.AwaitMessage(ctx, target, opts.livenessTimeout())
	}

	res.Checks[CheckNameCorrect] = name == want.instance
	res.Checks[CheckDTSEnabled] = Truthy(enabled)
	res.Checks[CheckServerCorrect] = server == want.server
	res.Checks[CheckTopicCorrect] = topic == want.topic
	res.Checks[CheckClientIDCorrect] = clientID == want.clientID
	res.Checks[CheckQoSCorrect] = qos == want.qos
	res.Checks[CheckMessageReceived] = received

	res.Raw["dts_name_value"] = name
	res.Raw["expected_name"] = want.instance
	res.Raw["actual_server"] = server
	res.Raw["expected_server"] = want.server
	res.Raw["actual_topic"] = topic
	res.Raw["expected_topic"] = want.topic
	res.Raw["actual_client_id"] = clientID
	res.Raw["expected_client_id"] = want.clientID
	res.Raw["actual_qos"] = qos
	res.Raw["expected_qos"] = want.qos
	res.Raw["mqtt_message"] = received
	res.Raw["mqtt_probe_ran"] = probed

	res.Success = res.Checks[CheckNameCorrect] &&
		res.Checks[CheckDTSEnabled] &&
		res.Checks[CheckServerCorrect] &&
		res.Checks[CheckTopicCorrect] &&
		res.Checks[CheckClientIDCorrect] &&
		res.Checks[CheckQoSCorrect]
	if opts.RequireLiveness {
		res.Success = res.Success && received
	}
	if res.Success {
		return res
	}

	mismatch := func(label, want, got string) {
		res.Failures = append(res.Failures, fmt.Sprintf("%s (expected '%s', got '%s')", label, want, got))
	}
	if !res.Checks[CheckNameCorrect] {
		mismatch("instanceName", want.instance, name)
	}
	if !res.Checks[CheckDTSEnabled] {
		res.Failures = append(res.Failures, "DTS not enabled")
	}
	if !res.Checks[CheckServerCorrect] {
		mismatch("server", want.server, server)
	}
	if !res.Checks[CheckTopicCorrect] {
		mismatch("topic", want.topic, topic)
	}
	if !res.Checks[CheckClientIDCorrect] {
		mismatch("client_id", want.clientID, clientID)
	}
	if !res.Checks[CheckQoSCorrect] {
		mismatch("QoS", want.qos, qos)
	}
	if probed && !received {
		res.Failures = append(res.Failures, "no MQTT message received")
	}
	return res
}
