package configtypes

import (
	"fmt"
	"net"
	"time"
)

// Validate validates importer configuration
func (c *ImporterConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	serverPort, err := ListenPort(c.Server.Listen)
	if err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}
	if time.Duration(c.Server.Timeout) < 0 {
		return fmt.Errorf("server.timeout must be >= 0, got %v", c.Server.Timeout)
	}
	if c.Server.MaxRequestBodySize < 0 {
		return fmt.Errorf("server.max_request_body_size must be >= 0, got %d", c.Server.MaxRequestBodySize)
	}

	if err := c.Guard.validate(); err != nil {
		return err
	}
	if err := c.Fetch.validate(); err != nil {
		return err
	}

	if c.Cache.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be specified when cache is enabled")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
		}
		if time.Duration(c.Cache.TTL) <= 0 {
			return fmt.Errorf("cache.ttl must be > 0 when cache is enabled")
		}
		switch c.Cache.Compression {
		case "", CompressionNone, CompressionSnappy, CompressionLZ4:
		default:
			return fmt.Errorf("cache.compression must be one of: none, snappy, lz4, got '%s'", c.Cache.Compression)
		}
	}

	if c.Metrics.Enabled {
		metricsPort, err := ListenPort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
		if metricsPort == serverPort {
			return fmt.Errorf("metrics.listen port (%d) must differ from server.listen port (%d)", metricsPort, serverPort)
		}
	}

	return c.Log.validate()
}

func (g *GuardConfig) validate() error {
	if g.ResolveTimeout != nil && time.Duration(*g.ResolveTimeout) < 0 {
		return fmt.Errorf("guard.resolve_timeout must be >= 0, got %v", *g.ResolveTimeout)
	}
	if g.DNSServer != "" {
		if _, _, err := net.SplitHostPort(g.DNSServer); err != nil {
			return fmt.Errorf("guard.dns_server must be host:port: %w", err)
		}
	}
	for i, h := range g.BlockedHostnames {
		if h == "" {
			return fmt.Errorf("guard.blocked_hostnames[%d] is empty", i)
		}
	}
	return nil
}

func (f *FetchConfig) validate() error {
	if time.Duration(f.Timeout) < 0 {
		return fmt.Errorf("fetch.timeout must be >= 0, got %v", f.Timeout)
	}
	if f.MaxBodySize < 0 {
		return fmt.Errorf("fetch.max_body_size must be >= 0, got %d", f.MaxBodySize)
	}
	if f.MaxRedirects < 0 {
		return fmt.Errorf("fetch.max_redirects must be >= 0, got %d", f.MaxRedirects)
	}
	return nil
}

func (l *LogConfig) validate() error {
	validLogLevels := map[string]bool{
		LogLevelDebug: true,
		LogLevelInfo:  true,
		LogLevelWarn:  true,
		LogLevelError: true,
	}
	if l.Level != "" && !validLogLevels[l.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error, got '%s'", l.Level)
	}
	if l.Console.Level != "" && !validLogLevels[l.Console.Level] {
		return fmt.Errorf("log.console.level must be one of: debug, info, warn, error, got '%s'", l.Console.Level)
	}

	if l.Console.Enabled && l.Console.Format != "" &&
		l.Console.Format != LogFormatJSON && l.Console.Format != LogFormatConsole {
		return fmt.Errorf("log.console.format must be 'json' or 'console', got '%s'", l.Console.Format)
	}

	if l.File.Enabled {
		if l.File.Path == "" {
			return fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}
		if l.File.Format != "" && l.File.Format != LogFormatJSON && l.File.Format != LogFormatText {
			return fmt.Errorf("log.file.format must be 'json' or 'text', got '%s'", l.File.Format)
		}
		if l.File.Level != "" && !validLogLevels[l.File.Level] {
			return fmt.Errorf("log.file.level must be one of: debug, info, warn, error, got '%s'", l.File.Level)
		}
		r := l.File.Rotation
		if r.MaxSize < 0 || r.MaxAge < 0 || r.MaxBackups < 0 {
			return fmt.Errorf("log.file.rotation values must be >= 0")
		}
	}

	return nil
}
