package runner

import (
	"log/slog"

	"github.com/rutlab/routertest/internal/testharness/loader"
	rtlog "github.com/rutlab/routertest/pkg/log"
	"github.com/rutlab/routertest/pkg/probe"
	"github.com/rutlab/routertest/pkg/sshclient"
	"github.com/rutlab/routertest/pkg/validator"
)

// SSHConfig returns the SSH endpoint of device. Without a known_hosts file
// the host key is not checked.
func SSHConfig(device *loader.DeviceConfig) sshclient.Config {
	ssh := device.Device.SSH
	var files []string
	if ssh.KnownHosts != "" {
		files = []string{ssh.KnownHosts}
	}
	return sshclient.Config{
		Host:            device.Device.IP,
		Port:            ssh.Port,
		User:            ssh.Username,
		Password:        ssh.Password,
		KnownHostsFiles: files,
		Insecure:        len(files) == 0,
	}
}

// NewProber returns the liveness prober named by kind (ProberExec,
// ProberClient or ProberNone). ProberNone yields nil, which disables the
// liveness check; an unknown kind falls back to ProberExec.
func NewProber(kind string, logger *slog.Logger, transcript rtlog.Logger) probe.Prober {
	switch kind {
	case ProberNone:
		return nil
	case ProberClient:
		return probe.NewClientProber(logger, transcript)
	default:
		return probe.NewCommandProber(logger, transcript)
	}
}

// ValidatorOptions applies the validation settings of device to the
// defaults. Liveness is required when either requireLiveness or the device
// asks for it.
func ValidatorOptions(device *loader.DeviceConfig, requireLiveness bool) validator.Options {
	opts := validator.DefaultOptions()
	opts.RequireLiveness = requireLiveness || device.Validation.RequireLiveness
	if t := device.Validation.Timeout.Std(); t > 0 {
		opts.Timeout = t
	}
	if t := device.Validation.LivenessTimeout.Std(); t > 0 {
		opts.LivenessTimeout = t
	}
	return opts
}
