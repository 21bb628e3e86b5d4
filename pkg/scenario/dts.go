package scenario

// Defaults applied when a Data-to-Server scenario leaves a value out.
const (
	DefaultInstanceName  = "test_instance"
	DefaultServerAddress = "test.mosquitto.org"
	DefaultTopic         = "test/topic"
	DefaultClientID      = "test_client"
	DefaultQoS           = "0"
	DefaultMQTTPort      = "1883"
	DefaultPeriod        = "60"
)

// DTSConfig is the expected Data-to-Server configuration.
type DTSConfig struct {
	InstanceName Scalar `json:"instanceName" yaml:"instanceName"`

	ServerConfig *ServerConfig `json:"server_config,omitempty" yaml:"server_config,omitempty"`

	Period    *PeriodConfig    `json:"collection_config-period,omitempty" yaml:"collection_config-period,omitempty"`
	Scheduler *SchedulerConfig `json:"collection_config-scheduler,omitempty" yaml:"collection_config-scheduler,omitempty"`

	// Collection is the legacy combined timing block with a timer key.
	Collection *LegacyCollection `json:"collection_config,omitempty" yaml:"collection_config,omitempty"`

	DataConfig *DataConfig `json:"data_config,omitempty" yaml:"data_config,omitempty"`
}

// Instance returns the instance name or DefaultInstanceName.
func (c *DTSConfig) Instance() string {
	return c.InstanceName.Or(DefaultInstanceName)
}

// Server returns ServerConfig, or an empty config when nil.
func (c *DTSConfig) Server() *ServerConfig {
	if c.ServerConfig == nil {
		return &ServerConfig{}
	}
	return c.ServerConfig
}

// ServerConfig describes the MQTT sink.
type ServerConfig struct {
	ServerAddress Scalar `json:"server_address" yaml:"server_address"`
	Port          Scalar `json:"port" yaml:"port"`
	Keepalive     Scalar `json:"keepalive" yaml:"keepalive"`
	Topic         Scalar `json:"topic" yaml:"topic"`
	ClientID      Scalar `json:"client_id" yaml:"client_id"`
	QoS           Scalar `json:"QoS" yaml:"QoS"`

	EnableSecureConnection Scalar            `json:"enable_secure_connection" yaml:"enable_secure_connection"`
	SecureConnection       *SecureConnection `json:"secure_connection,omitempty" yaml:"secure_connection,omitempty"`

	UseCredentials Scalar `json:"use_credentials" yaml:"use_credentials"`
	Username       Scalar `json:"username" yaml:"username"`
	Password       Scalar `json:"password" yaml:"password"`
}

// IsZero reports whether no server setting was given.
func (s *ServerConfig) IsZero() bool {
	return s == nil || *s == ServerConfig{}
}

// SecureConnection holds TLS settings of the MQTT sink.
type SecureConnection struct {
	AllowInsecure      Scalar          `json:"allow_insecure_connection" yaml:"allow_insecure_connection"`
	FilesFromDevice    Scalar          `json:"certificate_files_from_device" yaml:"certificate_files_from_device"`
	DeviceCertificates *CertificateSet `json:"device_certificates,omitempty" yaml:"device_certificates,omitempty"`

	// Uploaded certificate names, used when FilesFromDevice is false.
	CertificateSet `yaml:",inline"`
}

// CertificateSet names the CA, client certificate and key files.
type CertificateSet struct {
	CAFile        Scalar `json:"certificate_authority_file" yaml:"certificate_authority_file"`
	ClientCert    Scalar `json:"client_certificate" yaml:"client_certificate"`
	ClientKeyFile Scalar `json:"client_private_keyfile" yaml:"client_private_keyfile"`
}

// Files returns the certificate names that apply to this connection.
func (s *SecureConnection) Files() CertificateSet {
	if s.FilesFromDevice.Bool() && s.DeviceCertificates != nil {
		return *s.DeviceCertificates
	}
	return s.CertificateSet
}

// PeriodConfig is periodic collection timing.
type PeriodConfig struct {
	Period Scalar `json:"period" yaml:"period"`
	Retry  Scalar `json:"retry" yaml:"retry"`
}

// SchedulerConfig is calendar-based collection timing.
type SchedulerConfig struct {
	DayTime      Scalar   `json:"day_time" yaml:"day_time"`
	IntervalType Scalar   `json:"interval_type" yaml:"interval_type"`
	MonthDays    []Scalar `json:"month_day" yaml:"month_day"`
	Weekdays     []Scalar `json:"weekdays" yaml:"weekdays"`
	ForceLastDay Scalar   `json:"force_last_day" yaml:"force_last_day"`
	Retry        Scalar   `json:"retry" yaml:"retry"`
	RetryCount   Scalar   `json:"retry_count" yaml:"retry_count"`
	Timeout      Scalar   `json:"timeout" yaml:"timeout"`
}

// DayMode maps IntervalType to the UCI day_mode value.
func (s *SchedulerConfig) DayMode() string {
	switch s.IntervalType.String() {
	case "Week days":
		return "week"
	case "Month days":
		return "month"
	}
	return "day"
}

// LegacyCollection is the older timing block: timer selects between the
// period and scheduler fields.
type LegacyCollection struct {
	Timer        Scalar   `json:"timer" yaml:"timer"`
	Period       Scalar   `json:"period" yaml:"period"`
	Retry        Scalar   `json:"retry" yaml:"retry"`
	DayTime      Scalar   `json:"day_time" yaml:"day_time"`
	IntervalType Scalar   `json:"interval_type" yaml:"interval_type"`
	MonthDays    []Scalar `json:"month_day" yaml:"month_day"`
	Weekdays     []Scalar `json:"weekdays" yaml:"weekdays"`
	ForceLastDay Scalar   `json:"force_last_day" yaml:"force_last_day"`
	RetryCount   Scalar   `json:"retry_count" yaml:"retry_count"`
	Timeout      Scalar   `json:"timeout" yaml:"timeout"`
}

// AsPeriod returns the period fields.
func (l *LegacyCollection) AsPeriod() *PeriodConfig {
	return &PeriodConfig{Period: l.Period, Retry: l.Retry}
}

// AsScheduler returns the scheduler fields.
func (l *LegacyCollection) AsScheduler() *SchedulerConfig {
	return &SchedulerConfig{
		DayTime:      l.DayTime,
		IntervalType: l.IntervalType,
		MonthDays:    l.MonthDays,
		Weekdays:     l.Weekdays,
		ForceLastDay: l.ForceLastDay,
		Retry:        l.Retry,
		RetryCount:   l.RetryCount,
		Timeout:      l.Timeout,
	}
}

// DataConfig describes the input plugin.
type DataConfig struct {
	Type         Scalar   `json:"type" yaml:"type"`
	FormatType   Scalar   `json:"format_type" yaml:"format_type"`
	FormatString Scalar   `json:"format_string" yaml:"format_string"`
	EmptyValue   Scalar   `json:"empty_value" yaml:"empty_value"`
	Delimiter    Scalar   `json:"delimiter" yaml:"delimiter"`
	Values       []Scalar `json:"values" yaml:"values"`
	TypeSettings Settings `json:"type_settings,omitempty" yaml:"type_settings,omitempty"`
}

// DefaultDataConfig is used when a scenario has no data_config.
func DefaultDataConfig() *DataConfig {
	return &DataConfig{
		Type:       S("Base"),
		FormatType: S("JSON"),
		Values:     Strings("time", "local_time", "fw", "name", "id"),
	}
}

// Strings converts plain strings into Scalars.
func Strings(items ...string) []Scalar {
	out := make([]Scalar, len(items))
	for i, s := range items {
		out[i] = S(s)
	}
	return out
}

// Texts converts Scalars into plain strings.
func Texts(items []Scalar) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = s.String()
	}
	return out
}

// Timer values of a collection section.
const (
	TimerPeriod    = "period"
	TimerScheduler = "scheduler"
)

// Timing picks the collection timing block. Scheduler settings win over
// period settings, the legacy block is consulted last, and a plain 60 second
// period is used when nothing is configured.
func (c *DTSConfig) Timing() (string, *PeriodConfig, *SchedulerConfig) {
	switch {
	case c.Scheduler != nil && c.Scheduler.DayTime.IsSet():
		return TimerScheduler, nil, c.Scheduler
	case c.Period != nil && c.Period.Period.IsSet():
		return TimerPeriod, c.Period, nil
	case c.Collection != nil && c.Collection.Timer.String() == TimerScheduler:
		return TimerScheduler, nil, c.Collection.AsScheduler()
	case c.Collection != nil && c.Collection.Period.IsSet():
		return TimerPeriod, c.Collection.AsPeriod(), nil
	}
	return TimerPeriod, &PeriodConfig{Period: S(DefaultPeriod)}, nil
}

// Data returns DataConfig or DefaultDataConfig.
func (c *DTSConfig) Data() *DataConfig {
	if c.DataConfig == nil {
		return DefaultDataConfig()
	}
	return c.DataConfig
}
