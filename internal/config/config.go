// Package config loads the controller's YAML configuration document into a
// typed, read-only view. There is no runtime singleton: callers construct
// a *Config once at startup and pass it (or the pieces selectors need)
// down through explicit parameters.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrConfig wraps a missing or malformed configuration value. Unlike
// runtime errors, a configuration error is fatal at startup.
type ErrConfig struct {
	Field string
	Err   error
}

func (e *ErrConfig) Error() string { return fmt.Sprintf("config: %s: %v", e.Field, e.Err) }
func (e *ErrConfig) Unwrap() error { return e.Err }

// StringList decodes a YAML sequence whose scalars may be quoted strings or
// bare integers (e.g. a zone list `[5, 14]`) into a uniform []string, so
// the CQZone/ITUZone selectors accept either spelling.
type StringList []string

func (sl *StringList) UnmarshalYAML(value *yaml.Node) error {
	var raw []yaml.Node
	if err := value.Decode(&raw); err != nil {
		// Also accept a single bare scalar as a one-element list.
		var single string
		if err2 := value.Decode(&single); err2 != nil {
			return err
		}
		*sl = StringList{single}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, n := range raw {
		out = append(out, n.Value)
	}
	*sl = out
	return nil
}

// CommonSelector carries the tuning keys shared by every selector kind.
type CommonSelector struct {
	MinSNR        int  `yaml:"min_snr"`
	MaxSNR        int  `yaml:"max_snr"`
	Delta         int  `yaml:"delta"`
	Reverse       bool `yaml:"reverse"`
	LOTWUsersOnly bool `yaml:"lotw_users_only"`
	Debug         bool `yaml:"debug"`
}

func (c CommonSelector) minSNR() int {
	if c.MinSNR == 0 {
		return -50
	}
	return c.MinSNR
}

func (c CommonSelector) maxSNR() int {
	if c.MaxSNR == 0 {
		return 50
	}
	return c.MaxSNR
}

func (c CommonSelector) delta() int {
	if c.Delta == 0 {
		return 29
	}
	return c.Delta
}

// MinSNRValue, MaxSNRValue and DeltaSeconds expose the defaulted tuning values.
func (c CommonSelector) MinSNRValue() int  { return c.minSNR() }
func (c CommonSelector) MaxSNRValue() int  { return c.maxSNR() }
func (c CommonSelector) DeltaSeconds() int { return c.delta() }

// AnySelector has no extra fields beyond the common ones.
type AnySelector struct {
	CommonSelector `yaml:",inline"`
}

// CallSignSelector matches a candidate's call against a regexp or a list.
type CallSignSelector struct {
	CommonSelector `yaml:",inline"`
	Regexp         string     `yaml:"regexp"`
	List           StringList `yaml:"list"`
}

// GridSelector matches a candidate's grid against a regexp.
type GridSelector struct {
	CommonSelector `yaml:",inline"`
	Regexp         string `yaml:"regexp"`
}

// ContinentSelector matches against a configured continent set.
type ContinentSelector struct {
	CommonSelector `yaml:",inline"`
	List           StringList `yaml:"list"`
}

// CountrySelector matches against a configured country set, validated
// against the DXCC database at construction time.
type CountrySelector struct {
	CommonSelector `yaml:",inline"`
	List           StringList `yaml:"list"`
}

// ZoneSelector backs both CQZone and ITUZone.
type ZoneSelector struct {
	CommonSelector `yaml:",inline"`
	List           StringList `yaml:"list"`
}

// ExtraSelector matches against a configured set of CQ "extra" tags.
type ExtraSelector struct {
	CommonSelector `yaml:",inline"`
	List           StringList `yaml:"list"`
}

// DXCC100Selector discards candidates whose country has already been
// worked at least WorkedCount times on the requested band.
type DXCC100Selector struct {
	CommonSelector `yaml:",inline"`
	WorkedCount    int `yaml:"worked_count"`
}

func (d DXCC100Selector) workedCount() int {
	if d.WorkedCount == 0 {
		return 2
	}
	return d.WorkedCount
}

func (d DXCC100Selector) WorkedCountValue() int { return d.workedCount() }

// MQTT carries the optional MQTT spot fan-out settings.
type MQTT struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// FT8Ctrl is the ft8ctrl.* configuration section.
type FT8Ctrl struct {
	DBName          string   `yaml:"db_name"`
	MyCall          string   `yaml:"my_call"`
	MyGrid          string   `yaml:"my_grid"`
	MyContinent     string   `yaml:"my_continent"`
	WSJTIP          string   `yaml:"wsjt_ip"`
	WSJTPort        int      `yaml:"wsjt_port"`
	LoggerIP        string   `yaml:"logger_ip"`
	LoggerPort      int      `yaml:"logger_port"`
	FollowFrequency bool     `yaml:"follow_frequency"`
	TXPower         string   `yaml:"tx_power"`
	TXRetries       int      `yaml:"tx_retries"`
	RetryTime       int      `yaml:"retry_time"` // minutes
	CallSelector    []string `yaml:"call_selector"`
	LogfileName     string   `yaml:"logfile_name"`
	LogfileSize     int64    `yaml:"logfile_size"`
	DXCCPath        string   `yaml:"dxcc_path"`
	LOTWCachePath   string   `yaml:"lotw_cache_path"`
	MetricsListen   string   `yaml:"metrics_listen"`
	MQTT            MQTT     `yaml:"mqtt"`
}

func (f FT8Ctrl) txRetries() int {
	if f.TXRetries == 0 {
		return 5
	}
	return f.TXRetries
}

func (f FT8Ctrl) TXRetriesValue() int { return f.txRetries() }

func (f FT8Ctrl) retryWindowMinutes() int {
	if f.RetryTime == 0 {
		return 10
	}
	return f.RetryTime
}

func (f FT8Ctrl) RetryWindowMinutes() int { return f.retryWindowMinutes() }

// Config is the fully parsed configuration document.
type Config struct {
	FT8Ctrl   FT8Ctrl    `yaml:"ft8ctrl"`
	BlackList StringList `yaml:"BlackList"`

	Any       AnySelector       `yaml:"Any"`
	CallSign  CallSignSelector  `yaml:"CallSign"`
	Grid      GridSelector      `yaml:"Grid"`
	Continent ContinentSelector `yaml:"Continent"`
	Country   CountrySelector   `yaml:"Country"`
	CQZone    ZoneSelector      `yaml:"CQZone"`
	ITUZone   ZoneSelector      `yaml:"ITUZone"`
	Extra     ExtraSelector     `yaml:"Extra"`
	DXCC100   DXCC100Selector   `yaml:"DXCC100"`
}

// Load reads and parses path, validating the fields the sequencer and
// writer cannot run without. A missing required field yields *ErrConfig.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ErrConfig{Field: path, Err: err}
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &ErrConfig{Field: path, Err: err}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.FT8Ctrl.DBName == "" {
		return &ErrConfig{Field: "ft8ctrl.db_name", Err: fmt.Errorf("required")}
	}
	if c.FT8Ctrl.MyCall == "" {
		return &ErrConfig{Field: "ft8ctrl.my_call", Err: fmt.Errorf("required")}
	}
	if c.FT8Ctrl.WSJTIP == "" {
		return &ErrConfig{Field: "ft8ctrl.wsjt_ip", Err: fmt.Errorf("required")}
	}
	if c.FT8Ctrl.WSJTPort == 0 {
		return &ErrConfig{Field: "ft8ctrl.wsjt_port", Err: fmt.Errorf("required")}
	}
	if len(c.FT8Ctrl.CallSelector) == 0 {
		return &ErrConfig{Field: "ft8ctrl.call_selector", Err: fmt.Errorf("at least one selector required")}
	}
	return nil
}

// IntsToStrings is a small helper used by tests and the zone selectors to
// build a StringList from literal integers.
func IntsToStrings(ints ...int) StringList {
	out := make(StringList, len(ints))
	for i, v := range ints {
		out[i] = strconv.Itoa(v)
	}
	return out
}
