package scenario

// DefaultBrokerPort is used when a broker scenario omits the port.
const DefaultBrokerPort = "1883"

// BrokerConfig is the expected state of the on-device MQTT broker.
type BrokerConfig struct {
	Port            Scalar `json:"port" yaml:"port"`
	RemoteAccess    Scalar `json:"remote_access" yaml:"remote_access"`
	AnonymousAccess Scalar `json:"anonymous_access" yaml:"anonymous_access"`

	Security      *BrokerSecurity `json:"security,omitempty" yaml:"security,omitempty"`
	Miscellaneous *BrokerMisc     `json:"miscellaneous,omitempty" yaml:"miscellaneous,omitempty"`
	ACL           *ACLConfig      `json:"acl,omitempty" yaml:"acl,omitempty"`
	Password      *PasswordConfig `json:"password,omitempty" yaml:"password,omitempty"`

	// Validation carries timing hints for the validator.
	Validation *ValidationHints `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// ExpectedPort returns the configured port or DefaultBrokerPort.
func (c *BrokerConfig) ExpectedPort() string {
	return c.Port.Or(DefaultBrokerPort)
}

// BrokerSecurity covers TLS settings.
type BrokerSecurity struct {
	TLS          Scalar              `json:"TLS/SSL" yaml:"TLS/SSL"`
	TLSVersion   Scalar              `json:"TLS_version" yaml:"TLS_version"`
	Certificates *BrokerCertificates `json:"certificates,omitempty" yaml:"certificates,omitempty"`
}

// BrokerCertificates describes certificate or PSK based TLS.
type BrokerCertificates struct {
	// TLSType is "Certificate based" or "Pre-Shared-Key based".
	TLSType            Scalar              `json:"tls_type" yaml:"tls_type"`
	RequireCertificate Scalar              `json:"require_certificate" yaml:"require_certificate"`
	DeviceCertificates *DeviceCertificates `json:"device_certificates,omitempty" yaml:"device_certificates,omitempty"`
	PreSharedKey       Scalar              `json:"pre-shared-key" yaml:"pre-shared-key"`
	Identity           Scalar              `json:"identity" yaml:"identity"`
}

// TLSTypeValue maps TLSType to the UCI/API value ("cert", "psk" or "").
func (c *BrokerCertificates) TLSTypeValue() string {
	switch c.TLSType.String() {
	case "Certificate based":
		return "cert"
	case "Pre-Shared-Key based":
		return "psk"
	}
	return ""
}

// DeviceCertificates names certificate files on the router.
type DeviceCertificates struct {
	CAFile         Scalar `json:"ca_file" yaml:"ca_file"`
	CertFile       Scalar `json:"certificate_file" yaml:"certificate_file"`
	PrivateKeyFile Scalar `json:"client_private_keyfile" yaml:"client_private_keyfile"`
}

// BrokerMisc holds miscellaneous broker options.
type BrokerMisc struct {
	Persistence       Scalar `json:"persistence" yaml:"persistence"`
	AllowAnonymous    Scalar `json:"allow_anonymous" yaml:"allow_anonymous"`
	MaxQueuedMessages Scalar `json:"max_queued_messages" yaml:"max_queued_messages"`
	MaxPacketSize     Scalar `json:"maximum_packet_size" yaml:"maximum_packet_size"`
}

// ACLConfig describes a broker ACL file to generate.
type ACLConfig struct {
	Location string   `json:"acl_file_location" yaml:"acl_file_location"`
	Rules    []string `json:"rules" yaml:"rules"`
}

// PasswordConfig describes a broker password file to generate.
type PasswordConfig struct {
	Location string            `json:"password_file_location" yaml:"password_file_location"`
	Users    map[string]string `json:"users" yaml:"users"`
}

// ValidationHints tune validation for one scenario.
type ValidationHints struct {
	Timeout       Scalar `json:"timeout" yaml:"timeout"`
	RetryInterval Scalar `json:"retry_interval" yaml:"retry_interval"`
	MaxRetries    Scalar `json:"max_retries" yaml:"max_retries"`
}
