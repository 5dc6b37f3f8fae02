/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// This file provides tls utilities.

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

type Certificates struct {
	Dir        string `yaml:"dir"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CaCertFile string `yaml:"ca_cert_file"`
}

func (c Certificates) IsEmpty() bool {
	return c == Certificates{}
}

// Paths returns the cert, key and CA paths joined with Dir.
func (c Certificates) Paths() (certFile, keyFile, caCertFile string) {
	return JoinCertPath(c.Dir, c.CertFile), JoinCertPath(c.Dir, c.KeyFile), JoinCertPath(c.Dir, c.CaCertFile)
}

type LoadType int

const (
	LOAD_TYPE_CLIENT LoadType = iota
	LOAD_TYPE_SERVER
)

// GetTlsConfig builds a TLS config. For clients the CA verifies the server; for
// servers it verifies client certificates (mTLS).
func GetTlsConfig(loadType LoadType, insecure bool, certFile string, keyFile string, caCertFile string) (*tls.Config, error) {
	tlsConf := &tls.Config{MinVersion: tls.VersionTLS12}
	if certFile != "" {
		if keyFile == "" {
			return nil, fmt.Errorf("GetTlsConfig: key file is required with cert file %s", certFile)
		}
		certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("GetTlsConfig: LoadX509KeyPair failed: %w", err) // pragma: allowlist secret
		}
		tlsConf.Certificates = []tls.Certificate{certificate}
	} else if loadType == LOAD_TYPE_SERVER {
		return nil, fmt.Errorf("GetTlsConfig: server TLS requires a certificate")
	}

	if insecure && loadType == LOAD_TYPE_CLIENT {
		tlsConf.InsecureSkipVerify = true
	} else if caCertFile != "" {
		ca, err := os.ReadFile(caCertFile)
		if err != nil {
			return nil, fmt.Errorf("GetTlsConfig: could not read CA certificate file: %w", err) // pragma: allowlist secret
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("GetTlsConfig: AppendCertsFromPEM failed for %s", caCertFile) // pragma: allowlist secret
		}
		if loadType == LOAD_TYPE_CLIENT {
			tlsConf.RootCAs = certPool
		} else {
			tlsConf.ClientCAs = certPool
			tlsConf.ClientAuth = tls.RequireAndVerifyClientCert // pragma: allowlist secret
		}
	}
	return tlsConf, nil
}

// Return the cert path only when file is not empty.
func JoinCertPath(dir, file string) string {
	if len(file) > 0 {
		return filepath.Join(dir, file)
	}
	return ""
}
