package h2

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable knob in spec.md §6, with the defaults named
// there. Construct via DefaultConfig() and override fields, or load one
// from YAML via LoadConfig — mirroring the teacher's ConnOpts/ClientOpts
// split, generalized into one struct an embedding application can keep
// in a file instead of Go source.
type Config struct {
	ConnectionPoolSize int           `yaml:"connection_pool_size"`
	VerifySSL          bool          `yaml:"verify_ssl"`
	DefaultTimeout     time.Duration `yaml:"default_timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	H2PriorKnowledge   bool          `yaml:"h2_prior_knowledge"`

	CircuitBreakerEnabled          bool          `yaml:"circuit_breaker_enabled"`
	CircuitBreakerFailureThreshold int           `yaml:"circuit_breaker_failure_threshold"`
	CircuitBreakerRecoveryTimeout  time.Duration `yaml:"circuit_breaker_recovery_timeout"`

	MaxConcurrentStreams uint32 `yaml:"max_concurrent_streams"`
	InitialWindowSize    uint32 `yaml:"initial_window_size"`
	MaxFrameSize         uint32 `yaml:"max_frame_size"`
	MaxHeaderListSize    uint32 `yaml:"max_header_list_size"`

	ContinuationMaxFrames      int `yaml:"continuation_max_frames"`
	ContinuationMaxAccumulated int `yaml:"continuation_max_accumulated"`
	ContinuationMaxSingle      int `yaml:"continuation_max_single"`

	// EnableCompression adds an Accept-Encoding request header when the
	// caller supplied none; response bodies are not decompressed. Off by
	// default, matching the teacher's enableCompression client option default.
	EnableCompression bool `yaml:"enable_compression"`
}

// DefaultConfig returns the spec.md §6 default values.
func DefaultConfig() *Config {
	return &Config{
		ConnectionPoolSize:             10,
		VerifySSL:                      true,
		DefaultTimeout:                 30 * time.Second,
		ConnectTimeout:                 10 * time.Second,
		H2PriorKnowledge:               false,
		CircuitBreakerEnabled:          true,
		CircuitBreakerFailureThreshold: 5,
		CircuitBreakerRecoveryTimeout:  60 * time.Second,
		MaxConcurrentStreams:           defaultMaxConcurrentStreams,
		InitialWindowSize:              defaultInitialWindowSize,
		MaxFrameSize:                   defaultMaxFrameSize,
		MaxHeaderListSize:              defaultMaxHeaderListSize,
		ContinuationMaxFrames:          continuationMaxFrames,
		ContinuationMaxAccumulated:     continuationMaxAccumulated,
		ContinuationMaxSingle:          continuationMaxSingle,
	}
}

// LoadConfig reads a YAML document at path and overlays it onto
// DefaultConfig(), the way compose-go layers a YAML file over built-in
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
