package config

import (
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-saas/txn"
	"github.com/spf13/viper"
)

// Config provides getters for working with the config
type Config struct {
	logger log.Logger
}

// Init initializes the Config struct
func Init(logger log.Logger) (*Config, error) {
	c := &Config{logger: logger}
	return c, nil
}

// runtimeConfig defines the config variables, validation, and viper config
type runtimeConfig struct {
	Verbose            bool   `viper:"verbose" envkey:"TXNCTL_DEBUG" default:"false" description:"Enable verbose output"`
	DSN                string `viper:"dsn" validate:"required" envkey:"TXNCTL_DSN" default:"txnctl.db?_busy_timeout=5000" description:"sqlite3 data source name the scenarios run against"`
	LogSQL             bool   `viper:"log_sql" envkey:"TXNCTL_LOG_SQL" default:"false" description:"Log every SQL statement"`
	MaxOpenConns       int    `viper:"max_open_conns" validate:"gte=0" envkey:"TXNCTL_MAX_OPEN_CONNS" default:"4" description:"Maximum number of open connections in the pool (0 = unlimited)"`
	DefaultPropagation string `viper:"default_propagation" validate:"propagation" envkey:"TXNCTL_DEFAULT_PROPAGATION" default:"REQUIRED" description:"Propagation of scopes that do not set one"`
	DefaultIsolation   string `viper:"default_isolation" validate:"isolation" envkey:"TXNCTL_DEFAULT_ISOLATION" default:"DEFAULT" description:"Isolation of scopes that do not set one"`
}

// Verbose returns whether verbose mode is enabled
func (c *Config) Verbose() bool {
	return viper.GetBool("verbose")
}

// DSN returns the sqlite3 data source name, with a leading "./" made absolute
func (c *Config) DSN() string {
	dsn := viper.GetString("dsn")
	if strings.HasPrefix(dsn, "./") {
		dsn = strings.TrimPrefix(dsn, "./")
		currentDir, _ := filepath.Abs(".")
		dsn = filepath.Join(currentDir, dsn)
		viper.Set("dsn", dsn)
	}
	return dsn
}

// LogSQL returns whether SQL statements are logged
func (c *Config) LogSQL() bool {
	return viper.GetBool("log_sql")
}

// MaxOpenConns returns the connection pool limit
func (c *Config) MaxOpenConns() int {
	return viper.GetInt("max_open_conns")
}

// DefaultDefinition returns the definition scopes start from. Call Validate first.
func (c *Config) DefaultDefinition() []txn.DefinitionOption {
	p, _ := txn.ParsePropagation(viper.GetString("default_propagation"))
	i, _ := txn.ParseIsolation(viper.GetString("default_isolation"))
	return []txn.DefinitionOption{txn.WithPropagation(p), txn.WithIsolation(i)}
}
