// Package config loads the daemon's JSON-backed runtime configuration. It
// follows the same shape as a tuning-defaults file: optional pointer fields,
// Get* accessors that apply defaults, and a Validate pass, so partial
// configs committed to a deployment repo are safe to load.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the canonical location of the daemon's defaults file.
const DefaultConfigPath = "config/md2d.defaults.json"

// Config is the root configuration for the control-plane daemon.
type Config struct {
	// PMAC link
	PMACAddress   *string `json:"pmac_address,omitempty"`
	PMACMinGapMs  *int    `json:"pmac_min_gap_ms,omitempty"`
	PMACReconnect *string `json:"pmac_reconnect_interval,omitempty"`

	// KV mirror
	KVAddress    *string `json:"kv_address,omitempty"`
	KVPrefix     *string `json:"kv_prefix,omitempty"`
	KVChannel    *string `json:"kv_channel,omitempty"`
	KVUIChannel  *string `json:"kv_ui_channel,omitempty"`
	KVMirrorExpr *string `json:"kv_mirror_regex,omitempty"`

	// SQL gateway
	ExperimentDSN    *string `json:"experiment_dsn,omitempty"`
	ExperimentDriver *string `json:"experiment_driver,omitempty"`
	SQLReconnectMin  *string `json:"sql_reconnect_min_interval,omitempty"`

	// Operational store (ambient)
	OpsDBPath *string `json:"ops_db_path,omitempty"`

	// Queue sizing
	PMACQueueLen  *int `json:"pmac_queue_len,omitempty"`
	ASCIIQueueLen *int `json:"ascii_queue_len,omitempty"`
	SQLQueueLen   *int `json:"sql_queue_len,omitempty"`
	LogQueueLen   *int `json:"log_queue_len,omitempty"`
	EventQueueLen *int `json:"event_queue_len,omitempty"`

	// Status poll cadence
	StatusPollHz *float64 `json:"status_poll_hz,omitempty"`
}

// Empty returns a Config with all fields nil; use Load to populate one from
// a JSON file, or apply the Get* accessors directly for defaults.
func Empty() *Config { return &Config{} }

// Load reads and validates a JSON config file. Fields omitted from the file
// keep their default values, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that any set fields hold parseable/sane values.
func (c *Config) Validate() error {
	for _, d := range []*string{c.PMACReconnect, c.SQLReconnectMin} {
		if d != nil && *d != "" {
			if _, err := time.ParseDuration(*d); err != nil {
				return fmt.Errorf("invalid duration %q: %w", *d, err)
			}
		}
	}
	if c.StatusPollHz != nil && *c.StatusPollHz <= 0 {
		return fmt.Errorf("status_poll_hz must be positive, got %f", *c.StatusPollHz)
	}
	for name, v := range map[string]*int{
		"pmac_queue_len":  c.PMACQueueLen,
		"ascii_queue_len": c.ASCIIQueueLen,
		"sql_queue_len":   c.SQLQueueLen,
		"log_queue_len":   c.LogQueueLen,
		"event_queue_len": c.EventQueueLen,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	return nil
}

// GetPMACAddress returns the motion-controller TCP address, defaulting to
// the conventional MD2 PMAC endpoint.
func (c *Config) GetPMACAddress() string {
	if c.PMACAddress == nil {
		return "192.168.56.10:1025"
	}
	return *c.PMACAddress
}

// GetPMACMinGapMs returns the minimum inter-command gap enforced between
// successive PMAC writes.
func (c *Config) GetPMACMinGapMs() int {
	if c.PMACMinGapMs == nil {
		return 10
	}
	return *c.PMACMinGapMs
}

// GetPMACReconnectInterval returns the minimum spacing between DETACHED
// reconnect attempts.
func (c *Config) GetPMACReconnectInterval() time.Duration {
	if c.PMACReconnect == nil {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.PMACReconnect)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetKVAddress returns the remote hash-store address.
func (c *Config) GetKVAddress() string {
	if c.KVAddress == nil {
		return "localhost:6379"
	}
	return *c.KVAddress
}

// GetKVPrefix returns the configured key "head".
func (c *Config) GetKVPrefix() string {
	if c.KVPrefix == nil {
		return "md2"
	}
	return *c.KVPrefix
}

// GetKVChannel returns the publish channel used for write-through notices.
func (c *Config) GetKVChannel() string {
	if c.KVChannel == nil {
		return "md2.events"
	}
	return *c.KVChannel
}

// GetKVUIChannel returns the channel the daemon subscribes to for UI-originated writes.
func (c *Config) GetKVUIChannel() string {
	if c.KVUIChannel == nil {
		return "md2.ui"
	}
	return *c.KVUIChannel
}

// GetKVMirrorExpr returns the regex filtering which remote keys are mirrored.
func (c *Config) GetKVMirrorExpr() string {
	if c.KVMirrorExpr == nil {
		return ".*"
	}
	return *c.KVMirrorExpr
}

// GetExperimentDSN returns the data-source name for the experiment database.
func (c *Config) GetExperimentDSN() string {
	if c.ExperimentDSN == nil {
		return "experiment.db"
	}
	return *c.ExperimentDSN
}

// GetExperimentDriver returns the database/sql driver name to use. Production
// deployments point this at a Postgres driver; the daemon only ever issues
// stored-function calls, so the driver is an interchangeable detail.
func (c *Config) GetExperimentDriver() string {
	if c.ExperimentDriver == nil {
		return "sqlite"
	}
	return *c.ExperimentDriver
}

// GetSQLReconnectMinInterval returns the minimum spacing between RESET attempts.
func (c *Config) GetSQLReconnectMinInterval() time.Duration {
	if c.SQLReconnectMin == nil {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.SQLReconnectMin)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetOpsDBPath returns the path to the local operational SQLite store.
func (c *Config) GetOpsDBPath() string {
	if c.OpsDBPath == nil {
		return "md2d-ops.db"
	}
	return *c.OpsDBPath
}

// GetPMACQueueLen returns the binary command-queue capacity.
func (c *Config) GetPMACQueueLen() int {
	if c.PMACQueueLen == nil {
		return 2048
	}
	return *c.PMACQueueLen
}

// GetASCIIQueueLen returns the ASCII mailbox queue capacity.
func (c *Config) GetASCIIQueueLen() int {
	if c.ASCIIQueueLen == nil {
		return 1024
	}
	return *c.ASCIIQueueLen
}

// GetSQLQueueLen returns the SQL query queue capacity.
func (c *Config) GetSQLQueueLen() int {
	if c.SQLQueueLen == nil {
		return 16384
	}
	return *c.SQLQueueLen
}

// GetLogQueueLen returns the log ring capacity.
func (c *Config) GetLogQueueLen() int {
	if c.LogQueueLen == nil {
		return 8192
	}
	return *c.LogQueueLen
}

// GetEventQueueLen returns the event bus ring capacity.
func (c *Config) GetEventQueueLen() int {
	if c.EventQueueLen == nil {
		return 512
	}
	return *c.EventQueueLen
}

// GetStatusPollHz returns the status-block poll cadence.
func (c *Config) GetStatusPollHz() float64 {
	if c.StatusPollHz == nil {
		return 80.0
	}
	return *c.StatusPollHz
}
