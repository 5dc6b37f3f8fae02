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

// The file defines the api server configuration and its command line flags.
package common

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/llm-d-incubation/textgen-gateway/internal/processor/config"
)

const (
	DefaultAddr            = ":8000"
	DefaultShutdownTimeout = 30 * time.Second

	EnvServerAddr = "SERVER_ADDR"
)

type Config struct {
	Addr            string
	SSLCertFile     string
	SSLKeyFile      string
	ClientCAFile    string
	ConfigFile      string
	ShutdownTimeout time.Duration

	Service *config.ServiceConfig
}

func NewConfig() *Config {
	return &Config{
		Addr:            DefaultAddr,
		ShutdownTimeout: DefaultShutdownTimeout,
		Service:         config.NewConfig(),
	}
}

func (c *Config) AddFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "address the api server listens on")
	fs.StringVar(&c.SSLCertFile, "ssl-cert", c.SSLCertFile, "TLS certificate file; enables https together with -ssl-key")
	fs.StringVar(&c.SSLKeyFile, "ssl-key", c.SSLKeyFile, "TLS private key file")
	fs.StringVar(&c.ClientCAFile, "client-ca", c.ClientCAFile, "CA file used to verify client certificates")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "path to a YAML service configuration file")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "time allowed for in-flight requests on shutdown")

	s := c.Service
	fs.StringVar(&s.ModelName, "model-name", s.ModelName, "name of the served model")
	fs.StringVar(&s.Device, "device", s.Device, "device reported by the health endpoint")
	fs.IntVar(&s.MaxLength, "max-length", s.MaxLength, "largest max_length a request may ask for")
	fs.IntVar(&s.WorkerPoolSize, "worker-pool-size", s.WorkerPoolSize, "number of concurrent generations")
	fs.DurationVar(&s.GenerationTimeout, "generation-timeout", s.GenerationTimeout, "limit on queue wait plus generation, 0 for none")
	fs.DurationVar(&s.QueueTimeout, "queue-timeout", s.QueueTimeout, "limit on waiting for a worker slot, 0 for none")
	fs.StringVar(&s.Inference.Backend, "inference-backend", s.Inference.Backend, "generation backend: simulator or http")
	fs.StringVar(&s.Inference.URL, "inference-url", s.Inference.URL, "base URL of the http generation backend")
	fs.StringVar(&s.Redis.URL, "redis-url", s.Redis.URL, "redis URL for the generation log, empty to disable")
}

// Load layers the configuration: defaults, then the YAML file, then the environment,
// then flags set explicitly on the command line. fs must already be parsed.
func (c *Config) Load(fs *flag.FlagSet, lookup config.LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	explicit := map[string]string{}
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if c.ConfigFile != "" {
		if err := c.Service.LoadFromYAML(c.ConfigFile); err != nil {
			return err
		}
	}
	if err := c.Service.ApplyEnv(lookup); err != nil {
		return err
	}
	if v, ok := lookup(EnvServerAddr); ok && v != "" {
		c.Addr = v
	}

	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("flag -%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) TLSEnabled() bool {
	return c.SSLCertFile != "" && c.SSLKeyFile != ""
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("listen address cannot be empty")
	}
	if (c.SSLCertFile == "") != (c.SSLKeyFile == "") {
		return errors.New("ssl-cert and ssl-key must be set together")
	}
	if c.ClientCAFile != "" && !c.TLSEnabled() {
		return errors.New("client-ca requires ssl-cert and ssl-key")
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown timeout cannot be negative")
	}
	if c.Service == nil {
		return errors.New("service configuration is missing")
	}
	return c.Service.Validate()
}
