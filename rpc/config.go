package rpc

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config mirrors the teacher's nested music.Config/*Conf style
// (music/config.go), minus any SQL-backed sections: this controller's
// persistence is the flag-file directory, not a database.
type Config struct {
	Common   CommonConf   `mapstructure:"common"`
	DNSProbe DNSProbeConf `mapstructure:"dnsprobe"`
	Backend  BackendConf  `mapstructure:"backend"`
	Cluster  ClusterConf  `mapstructure:"cluster"`
	ACL      ACLConf      `mapstructure:"acl"`
}

type CommonConf struct {
	FlagDir    string `mapstructure:"flagdir" validate:"required"`
	ListenAddr string `mapstructure:"listen" validate:"required"`
	LogFile    string `mapstructure:"logfile"`
	Debug      bool   `mapstructure:"debug"`
}

type DNSProbeConf struct {
	SignerAddress  string        `mapstructure:"signer_address" validate:"required,hostname_port"`
	Timeout        time.Duration `mapstructure:"timeout"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// AssertSignedImmediateOverride is the Open Question resolution
	// for assert_signed's historical deadlock workaround.
	AssertSignedImmediateOverride bool `mapstructure:"assert_signed_immediate_override"`
}

type BackendConf struct {
	ManageArgv   []string `mapstructure:"manage_argv"`
	UnmanageArgv []string `mapstructure:"unmanage_argv"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type ClusterConf struct {
	Enabled bool `mapstructure:"enabled"`
}

// ACLConf is the raw form loaded from config before being turned into
// an ACL map; command names are config keys, values are key-identity
// lists, grounded on original_source/src/commandaccess.py's acls dict.
type ACLConf map[string][]string

// ToACL converts the loaded configuration into a Dispatcher ACL.
func (a ACLConf) ToACL() ACL {
	out := make(ACL, len(a))
	for cmd, kids := range a {
		set := make(map[string]bool, len(kids))
		for _, kid := range kids {
			set[kid] = true
		}
		out[Command(cmd)] = set
	}
	return out
}

// LoadConfig reads and validates a config file the way the teacher's
// music.LoadMusicConfig loads music-zones.yaml: SetConfigFile then
// Unmarshal, followed by struct validation.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("dnsprobe.timeout", 30*time.Second)
	v.SetDefault("dnsprobe.initial_backoff", 100*time.Millisecond)
	v.SetDefault("backend.timeout", 30*time.Second)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg.Common); err != nil {
		return nil, fmt.Errorf("invalid common config: %w", err)
	}
	if err := validate.Struct(cfg.DNSProbe); err != nil {
		return nil, fmt.Errorf("invalid dnsprobe config: %w", err)
	}

	return &cfg, nil
}
