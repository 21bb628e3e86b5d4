package driver

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rutlab/routertest/pkg/cert"
	"github.com/rutlab/routertest/pkg/scenario"
)

// PrepareBrokerFiles creates the local files a broker scenario refers to:
// certificates for certificate-based TLS, and the ACL and password files.
// Relative locations are resolved against dir. It returns the files that
// were written or found.
func PrepareBrokerFiles(dir string, cfg *scenario.BrokerConfig) ([]string, error) {
	if cfg == nil {
		return nil, nil
	}
	var files []string

	if s := cfg.Security; s != nil && s.TLS.Bool() && s.Certificates != nil && s.Certificates.TLSTypeValue() == "cert" {
		paths, err := brokerCertificates(dir, s.Certificates.DeviceCertificates)
		if err != nil {
			return nil, fmt.Errorf("prepare broker certificates: %w", err)
		}
		files = append(files, paths.CAFile, paths.CertFile, paths.KeyFile)
	}

	if acl := cfg.ACL; acl != nil {
		path, err := cert.WriteACLFile(resolve(dir, acl.Location), acl.Rules)
		if err != nil && !errors.Is(err, cert.ErrIncompleteConfig) {
			return nil, fmt.Errorf("write ACL file: %w", err)
		}
		if path != "" {
			files = append(files, path)
		}
	}
	if pw := cfg.Password; pw != nil {
		path, err := cert.WritePasswordFile(resolve(dir, pw.Location), pw.Users)
		if err != nil && !errors.Is(err, cert.ErrIncompleteConfig) {
			return nil, fmt.Errorf("write password file: %w", err)
		}
		if path != "" {
			files = append(files, path)
		}
	}
	return files, nil
}

// brokerCertificates keeps local copies of the named device certificates
// under dir, generating any that are missing. Without names a fresh bundle
// is generated.
func brokerCertificates(dir string, dc *scenario.DeviceCertificates) (cert.Paths, error) {
	if dc == nil || !dc.CAFile.IsSet() || !dc.CertFile.IsSet() || !dc.PrivateKeyFile.IsSet() {
		b, err := cert.GenerateBrokerCertificates(dir)
		if err != nil {
			return cert.Paths{}, err
		}
		return b.Paths, nil
	}
	local := func(name string) string {
		return filepath.Join(dir, cert.SubDir, filepath.Base(name))
	}
	return cert.PrepareBrokerCertificates(cert.Paths{
		CAFile:   local(dc.CAFile.String()),
		CertFile: local(dc.CertFile.String()),
		KeyFile:  local(dc.PrivateKeyFile.String()),
	})
}

func resolve(dir, location string) string {
	if location == "" || filepath.IsAbs(location) {
		return location
	}
	return filepath.Join(dir, location)
}
