package configtypes

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// Cache compression algorithms
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// ImporterConfig is the root configuration of the recipe importer service
type ImporterConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Guard   GuardConfig   `yaml:"guard"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Listen  string   `yaml:"listen"`
	Timeout Duration `yaml:"timeout"`
	// MaxRequestBodySize caps import request bodies in bytes
	MaxRequestBodySize int `yaml:"max_request_body_size,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GuardConfig configures outbound URL validation
type GuardConfig struct {
	BlockedHostnames []string  `yaml:"blocked_hostnames,omitempty"` // Added to the built-in localhost aliases
	ResolveTimeout   *Duration `yaml:"resolve_timeout,omitempty"`   // Bound for A+AAAA lookups (default: 5s)
	DNSServer        string    `yaml:"dns_server,omitempty"`        // Optional "host:port"; system resolver when empty
}

// FetchConfig configures the outbound HTTP client used after validation
type FetchConfig struct {
	Timeout      Duration `yaml:"timeout"`       // Whole-request timeout (default: 10s)
	MaxBodySize  int      `yaml:"max_body_size"` // Response body limit in bytes (default: 5MiB)
	MaxRedirects int      `yaml:"max_redirects"` // Each hop is re-validated (default: 5)
	UserAgent    string   `yaml:"user_agent"`
}

// CacheConfig configures the imported-recipe cache. Validation verdicts are never cached.
type CacheConfig struct {
	Enabled     bool     `yaml:"enabled"`
	TTL         Duration `yaml:"ttl"`
	Compression string   `yaml:"compression,omitempty"` // none, snappy, lz4
	KeyPrefix   string   `yaml:"key_prefix,omitempty"`
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}
