package main

import (
	"time"

	"cabbageDDL/access"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Name   string `json:"name" mapstructure:"name"`
	Engine string `json:"engine" mapstructure:"engine"`
}

type GrantConfig struct {
	User     string   `json:"user" mapstructure:"user"`
	Database string   `json:"database" mapstructure:"database"`
	Table    string   `json:"table" mapstructure:"table"`
	Access   []string `json:"access" mapstructure:"access"`
}

type Config struct {
	ID            uint64  `json:"id" mapstructure:"id"`
	ListenAddr    string  `json:"listen_addr" mapstructure:"listen_addr"`
	MetricsAddr   string  `json:"metrics_addr" mapstructure:"metrics_addr"`
	LogLevel      string  `json:"log_level" mapstructure:"log_level"`
	LogDir        string  `json:"log_dir" mapstructure:"log_dir"`
	DataDir       string  `json:"data_dir" mapstructure:"data_dir"`
	CompactThresh float64 `json:"compact_threshold" mapstructure:"compact_threshold"`

	LockAcquireTimeout       time.Duration `json:"lock_acquire_timeout" mapstructure:"lock_acquire_timeout"`
	ReclaimDelay             time.Duration `json:"reclaim_delay" mapstructure:"reclaim_delay"`
	ReclaimInterval          time.Duration `json:"reclaim_interval" mapstructure:"reclaim_interval"`
	WaitForDropSynchronously bool          `json:"wait_for_drop_synchronously" mapstructure:"wait_for_drop_synchronously"`
	// MaxTableRowsToDrop refuses DROP and TRUNCATE of bigger KV tables. Zero disables the check.
	MaxTableRowsToDrop int `json:"max_table_rows_to_drop" mapstructure:"max_table_rows_to_drop"`

	DefaultDatabase string `json:"default_database" mapstructure:"default_database"`
	DefaultUser     string `json:"default_user" mapstructure:"default_user"`
	// Cluster is the name ON CLUSTER requests must use. Empty disables cluster DDL.
	Cluster   string           `json:"cluster" mapstructure:"cluster"`
	Databases []DatabaseConfig `json:"databases" mapstructure:"databases"`
	Grants    []GrantConfig    `json:"grants" mapstructure:"grants"`
}

func DefaultConfig() *Config {
	return &Config{
		ID:                 1,
		ListenAddr:         "0.0.0.0:9605",
		MetricsAddr:        "0.0.0.0:9606",
		LogLevel:           "INFO",
		LogDir:             "log",
		DataDir:            "data",
		CompactThresh:      0.2,
		LockAcquireTimeout: 120 * time.Second,
		ReclaimDelay:       480 * time.Second,
		ReclaimInterval:    5 * time.Second,
		DefaultDatabase:    "default",
		DefaultUser:        "default",
		Databases:          []DatabaseConfig{{Name: "default", Engine: "Atomic"}},
	}
}

// LoadConfig reads configFile over the defaults. An empty path returns the defaults.
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()
	if configFile == "" {
		return config, nil
	}
	viperCfg := viper.New()
	viperCfg.SetConfigFile(configFile)
	if err := viperCfg.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := viperCfg.Unmarshal(config); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if config.ID == 0 {
		return nil, errors.New("id not allow equal 0")
	}
	return config, nil
}

// Checker returns the grant table, or AllowAll when no grants are configured.
func (c *Config) Checker() (access.Checker, error) {
	if len(c.Grants) == 0 {
		return access.AllowAll{}, nil
	}
	grants := access.NewGrants()
	for _, g := range c.Grants {
		var held access.AccessType
		for _, name := range g.Access {
			t, err := access.ParseAccessType(name)
			if err != nil {
				return nil, errors.Wrapf(err, "grant for user %s", g.User)
			}
			held |= t
		}
		grants.Grant(g.User, access.Grant{Database: g.Database, Table: g.Table, Access: held})
	}
	return grants, nil
}
