package store

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recordset/internal/querysql"
)

// Config describes where connections come from.
//
// Example:
//
//	default_credentials: app
//	default_datasource: main
//	record_queries: true
//	credentials:
//	  app: {user: recordset, password: secret}
//	datasources:
//	  main: {driver: sqlite, dsn: "file:app.db"}
//	  reporting: {driver: postgres, dsn: "postgres://db.internal/reports?sslmode=disable"}
type Config struct {
	DefaultCredentials string                 `yaml:"default_credentials"`
	DefaultDataSource  string                 `yaml:"default_datasource"`
	RecordQueries      bool                   `yaml:"record_queries"`
	LogLevel           string                 `yaml:"log_level"`
	Credentials        map[string]Credentials `yaml:"credentials"`
	DataSources        map[string]DataSource  `yaml:"datasources"`
}

// Credentials is a named user/password pair.
type Credentials struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// DataSource is a named backing store.
type DataSource struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// MaxOpenConns caps the pool; sqlite always uses one connection.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML strictly: unknown fields are errors.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that defaults exist and every datasource names a known driver.
func (c *Config) Validate() error {
	if c.DefaultCredentials != "" {
		if _, ok := c.Credentials[c.DefaultCredentials]; !ok {
			return &ConfigError{Code: ErrCodeCredentialsNotFound, Ref: c.DefaultCredentials, Message: "default credentials not defined"}
		}
	}
	if c.DefaultDataSource != "" {
		if _, ok := c.DataSources[c.DefaultDataSource]; !ok {
			return &ConfigError{Code: ErrCodeUnknownDataSource, Ref: c.DefaultDataSource, Message: "default datasource not defined"}
		}
	}
	for _, name := range c.dataSourceNames() {
		ds := c.DataSources[name]
		if _, err := querysql.ParseDialect(ds.Driver); err != nil {
			return &ConfigError{Code: ErrCodeUnavailableDriver, Ref: name, Message: err.Error()}
		}
		if ds.DSN == "" {
			return &ConfigError{Code: ErrCodeUnknownDataSource, Ref: name, Message: "dsn is required"}
		}
	}
	return nil
}

// credentials resolves a credentials reference; "" means the default.
func (c *Config) credentials(ref string) (Credentials, string, error) {
	if ref == "" {
		ref = c.DefaultCredentials
	}
	if ref == "" {
		return Credentials{}, "", nil
	}
	cred, ok := c.Credentials[ref]
	if !ok {
		return Credentials{}, ref, &ConfigError{Code: ErrCodeCredentialsNotFound, Ref: ref, Message: "credentials not found"}
	}
	return cred, ref, nil
}

// dataSource resolves a datasource reference; "" means the default.
func (c *Config) dataSource(ref string) (DataSource, string, error) {
	if ref == "" {
		ref = c.DefaultDataSource
	}
	ds, ok := c.DataSources[ref]
	if !ok {
		return DataSource{}, ref, &ConfigError{Code: ErrCodeUnknownDataSource, Ref: ref, Message: "datasource not found"}
	}
	return ds, ref, nil
}

func (c *Config) dataSourceNames() []string {
	names := make([]string, 0, len(c.DataSources))
	for name := range c.DataSources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
