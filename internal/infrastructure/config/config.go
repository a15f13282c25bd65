package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Database drivers
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Tunnel    TunnelConfig
	ERPNext   ERPNextConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Numbering NumberingConfig
	Sync      SyncConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level     string // debug, info, warn, error
	Format    string // json, console
	Output    string // stdout, stderr, or file path
	GormLevel string // silent, error, warn, info
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds connection settings for the ProcureUAT database
type DatabaseConfig struct {
	Driver          string // mysql, postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string // postgres only
	Path            string // sqlite only
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	ConnectTimeout  time.Duration
	ConnectRetries  int
}

// TunnelConfig holds SSH tunnel settings used to reach the database
type TunnelConfig struct {
	Enabled               bool
	Name                  string
	SSHHost               string
	SSHPort               int
	SSHUser               string
	SSHPassword           string
	PrivateKeyFile        string
	PrivateKeyPassphrase  string
	KnownHostsFile        string
	HostKey               string // authorized_keys format, alternative to KnownHostsFile
	InsecureIgnoreHostKey bool
	RemoteHost            string
	RemotePort            int
	LocalPort             int // 0 picks a free port
	DialTimeout           time.Duration
	KeepaliveInterval     time.Duration
	DialRetries           int
}

// ERPNextConfig holds the Frappe REST API settings
type ERPNextConfig struct {
	Enabled          bool
	BaseURL          string
	APIKey           string
	APISecret        string
	Timeout          time.Duration
	PageSize         int
	InvoiceCodeField string
	ExternalIDField  string
	// Account heads used for the GST tax rows of pulled invoices
	CGSTAccount     string
	SGSTAccount     string
	IGSTAccount     string
	DefaultItemCode string
	Company         string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AuthConfig holds bearer token settings for the HTTP API
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration // Lifetime of tokens minted by the token command
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	CORSAllowOrigins []string
	TrustedProxies   []string
}

// HistorySourceConfig names a table column holding previously issued invoice codes
type HistorySourceConfig struct {
	Table  string `mapstructure:"table"`
	Column string `mapstructure:"column"`
}

// NumberingConfig holds invoice number allocator settings
type NumberingConfig struct {
	Prefix         string
	PadWidth       int
	AllowFallback  bool
	FallbackMarker string
	CounterTable   string
	History        []HistorySourceConfig
	ERPNextHistory bool // also seed from ERPNext Purchase Invoice codes
}

// SyncConfig holds Purchase Invoice sync settings
type SyncConfig struct {
	Enabled        bool
	Directions     []string // push, pull
	Interval       time.Duration
	Workers        int
	JobTimeout     time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	Lookback       time.Duration
	PageSize       int
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
	ExternalTable  string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool    // Enable database query tracing (otelgorm)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool   // Export zap logs through the OTLP log bridge
	LogsLevel         string // Minimum level sent to the collector

	// Pyroscope continuous profiling
	ProfilingEnabled bool
	ProfilingAddress string // e.g. "http://pyroscope:4040"
	SpanProfiles     bool   // Attach span IDs to CPU profiles
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ERPSYNC_ prefix (e.g., ERPSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from an explicit file. An empty path searches
// the default locations.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ERPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			Path:            v.GetString("database.path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			ConnectTimeout:  v.GetDuration("database.connect_timeout"),
			ConnectRetries:  v.GetInt("database.connect_retries"),
		},
		Tunnel: TunnelConfig{
			Enabled:               v.GetBool("tunnel.enabled"),
			Name:                  v.GetString("tunnel.name"),
			SSHHost:               v.GetString("tunnel.ssh_host"),
			SSHPort:               v.GetInt("tunnel.ssh_port"),
			SSHUser:               v.GetString("tunnel.ssh_user"),
			SSHPassword:           v.GetString("tunnel.ssh_password"),
			PrivateKeyFile:        v.GetString("tunnel.private_key_file"),
			PrivateKeyPassphrase:  v.GetString("tunnel.private_key_passphrase"),
			KnownHostsFile:        v.GetString("tunnel.known_hosts_file"),
			HostKey:               v.GetString("tunnel.host_key"),
			InsecureIgnoreHostKey: v.GetBool("tunnel.insecure_ignore_host_key"),
			RemoteHost:            v.GetString("tunnel.remote_host"),
			RemotePort:            v.GetInt("tunnel.remote_port"),
			LocalPort:             v.GetInt("tunnel.local_port"),
			DialTimeout:           v.GetDuration("tunnel.dial_timeout"),
			KeepaliveInterval:     v.GetDuration("tunnel.keepalive_interval"),
			DialRetries:           v.GetInt("tunnel.dial_retries"),
		},
		ERPNext: ERPNextConfig{
			Enabled:          v.GetBool("erpnext.enabled"),
			BaseURL:          v.GetString("erpnext.base_url"),
			APIKey:           v.GetString("erpnext.api_key"),
			APISecret:        v.GetString("erpnext.api_secret"),
			Timeout:          v.GetDuration("erpnext.timeout"),
			PageSize:         v.GetInt("erpnext.page_size"),
			InvoiceCodeField: v.GetString("erpnext.invoice_code_field"),
			ExternalIDField:  v.GetString("erpnext.external_id_field"),
			CGSTAccount:      v.GetString("erpnext.cgst_account"),
			SGSTAccount:      v.GetString("erpnext.sgst_account"),
			IGSTAccount:      v.GetString("erpnext.igst_account"),
			DefaultItemCode:  v.GetString("erpnext.default_item_code"),
			Company:          v.GetString("erpnext.company"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			Enabled:   v.GetBool("auth.enabled"),
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
			TokenTTL:  v.GetDuration("auth.token_ttl"),
		},
		Log: LogConfig{
			Level:     v.GetString("log.level"),
			Format:    v.GetString("log.format"),
			Output:    v.GetString("log.output"),
			GormLevel: v.GetString("log.gorm_level"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Numbering: NumberingConfig{
			Prefix:         v.GetString("numbering.prefix"),
			PadWidth:       v.GetInt("numbering.pad_width"),
			AllowFallback:  v.GetBool("numbering.allow_fallback"),
			FallbackMarker: v.GetString("numbering.fallback_marker"),
			CounterTable:   v.GetString("numbering.counter_table"),
			ERPNextHistory: v.GetBool("numbering.erpnext_history"),
		},
		Sync: SyncConfig{
			Enabled:        v.GetBool("sync.enabled"),
			Directions:     v.GetStringSlice("sync.directions"),
			Interval:       v.GetDuration("sync.interval"),
			Workers:        v.GetInt("sync.workers"),
			JobTimeout:     v.GetDuration("sync.job_timeout"),
			RetryAttempts:  v.GetInt("sync.retry_attempts"),
			RetryDelay:     v.GetDuration("sync.retry_delay"),
			Lookback:       v.GetDuration("sync.lookback"),
			PageSize:       v.GetInt("sync.page_size"),
			LockTTL:        v.GetDuration("sync.lock_ttl"),
			IdempotencyTTL: v.GetDuration("sync.idempotency_ttl"),
			ExternalTable:  v.GetString("sync.external_table"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			LogsLevel:         v.GetString("telemetry.logs_level"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingAddress:  v.GetString("telemetry.profiling_address"),
			SpanProfiles:      v.GetBool("telemetry.span_profiles"),
		},
	}

	if err := v.UnmarshalKey("numbering.history", &cfg.Numbering.History); err != nil {
		return nil, fmt.Errorf("error reading numbering.history: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "erpsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMySQL
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		switch cfg.Database.Driver {
		case DriverPostgres:
			cfg.Database.Port = 5432
		default:
			cfg.Database.Port = 3306
		}
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "procure"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "ProcureUAT"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "erpsync.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.Database.ConnectRetries == 0 {
		cfg.Database.ConnectRetries = 3
	}

	if cfg.Tunnel.Name == "" {
		cfg.Tunnel.Name = "procure"
	}
	if cfg.Tunnel.SSHPort == 0 {
		cfg.Tunnel.SSHPort = 22
	}
	if cfg.Tunnel.RemoteHost == "" {
		cfg.Tunnel.RemoteHost = "127.0.0.1"
	}
	if cfg.Tunnel.RemotePort == 0 {
		cfg.Tunnel.RemotePort = 3306
	}
	if cfg.Tunnel.DialTimeout == 0 {
		cfg.Tunnel.DialTimeout = 15 * time.Second
	}
	if cfg.Tunnel.KeepaliveInterval == 0 {
		cfg.Tunnel.KeepaliveInterval = 30 * time.Second
	}
	if cfg.Tunnel.DialRetries == 0 {
		cfg.Tunnel.DialRetries = 3
	}

	if cfg.ERPNext.Timeout == 0 {
		cfg.ERPNext.Timeout = 30 * time.Second
	}
	if cfg.ERPNext.PageSize == 0 {
		cfg.ERPNext.PageSize = 100
	}
	if cfg.ERPNext.InvoiceCodeField == "" {
		cfg.ERPNext.InvoiceCodeField = "custom_invoice_code"
	}
	if cfg.ERPNext.ExternalIDField == "" {
		cfg.ERPNext.ExternalIDField = "custom_external_id"
	}
	if cfg.ERPNext.CGSTAccount == "" {
		cfg.ERPNext.CGSTAccount = "Input Tax CGST"
	}
	if cfg.ERPNext.SGSTAccount == "" {
		cfg.ERPNext.SGSTAccount = "Input Tax SGST"
	}
	if cfg.ERPNext.IGSTAccount == "" {
		cfg.ERPNext.IGSTAccount = "Input Tax IGST"
	}
	if cfg.ERPNext.DefaultItemCode == "" {
		cfg.ERPNext.DefaultItemCode = "PO-INVOICE"
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "erpsync"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Log.GormLevel == "" {
		cfg.Log.GormLevel = "warn"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}

	if cfg.Numbering.Prefix == "" {
		cfg.Numbering.Prefix = "AGO2O"
	}
	if cfg.Numbering.PadWidth == 0 {
		cfg.Numbering.PadWidth = 4
	}
	if cfg.Numbering.FallbackMarker == "" {
		cfg.Numbering.FallbackMarker = "TMP"
	}
	if cfg.Numbering.CounterTable == "" {
		cfg.Numbering.CounterTable = "invoice_counters"
	}
	if len(cfg.Numbering.History) == 0 {
		cfg.Numbering.History = []HistorySourceConfig{{Table: "po_invoices", Column: "invoice_number"}}
	}

	if len(cfg.Sync.Directions) == 0 {
		cfg.Sync.Directions = []string{"push", "pull"}
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 5 * time.Minute
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 2
	}
	if cfg.Sync.JobTimeout == 0 {
		cfg.Sync.JobTimeout = 10 * time.Minute
	}
	if cfg.Sync.RetryAttempts == 0 {
		cfg.Sync.RetryAttempts = 3
	}
	if cfg.Sync.RetryDelay == 0 {
		cfg.Sync.RetryDelay = time.Minute
	}
	if cfg.Sync.Lookback == 0 {
		cfg.Sync.Lookback = 10 * time.Minute
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = 50
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 15 * time.Minute
	}
	if cfg.Sync.IdempotencyTTL == 0 {
		cfg.Sync.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.Sync.ExternalTable == "" {
		cfg.Sync.ExternalTable = "po_invoices"
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "erpsync"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.LogsLevel == "" {
		cfg.Telemetry.LogsLevel = "info"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be one of mysql, postgres, sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Tunnel.Enabled {
		if c.Tunnel.SSHHost == "" || c.Tunnel.SSHUser == "" {
			return fmt.Errorf("tunnel.ssh_host and tunnel.ssh_user are required when the tunnel is enabled")
		}
		if c.Tunnel.SSHPassword == "" && c.Tunnel.PrivateKeyFile == "" {
			return fmt.Errorf("tunnel.ssh_password or tunnel.private_key_file is required when the tunnel is enabled")
		}
		if c.Tunnel.KnownHostsFile == "" && c.Tunnel.HostKey == "" && !c.Tunnel.InsecureIgnoreHostKey {
			return fmt.Errorf("tunnel.known_hosts_file or tunnel.host_key is required unless tunnel.insecure_ignore_host_key is set")
		}
	}

	if c.ERPNext.Enabled {
		if _, err := url.ParseRequestURI(c.ERPNext.BaseURL); err != nil {
			return fmt.Errorf("erpnext.base_url is invalid: %w", err)
		}
		if c.ERPNext.APIKey == "" || c.ERPNext.APISecret == "" {
			return fmt.Errorf("erpnext.api_key and erpnext.api_secret are required when ERPNext is enabled")
		}
	}

	if c.Numbering.PadWidth < 1 || c.Numbering.PadWidth > 12 {
		return fmt.Errorf("numbering.pad_width must be between 1 and 12, got %d", c.Numbering.PadWidth)
	}
	if strings.Contains(c.Numbering.Prefix, "/") {
		return fmt.Errorf("numbering.prefix must not contain '/'")
	}
	if !identifierPattern.MatchString(c.Numbering.CounterTable) {
		return fmt.Errorf("numbering.counter_table %q is not a valid identifier", c.Numbering.CounterTable)
	}
	for _, h := range c.Numbering.History {
		if !identifierPattern.MatchString(h.Table) || !identifierPattern.MatchString(h.Column) {
			return fmt.Errorf("numbering.history entry %s.%s is not a valid identifier", h.Table, h.Column)
		}
	}

	for _, d := range c.Sync.Directions {
		if d != "push" && d != "pull" {
			return fmt.Errorf("sync.directions entries must be push or pull, got %q", d)
		}
	}
	if !identifierPattern.MatchString(c.Sync.ExternalTable) {
		return fmt.Errorf("sync.external_table %q is not a valid identifier", c.Sync.ExternalTable)
	}
	if c.Sync.Enabled && !c.ERPNext.Enabled {
		return fmt.Errorf("sync.enabled requires erpnext.enabled")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Tunnel.Enabled && c.Tunnel.InsecureIgnoreHostKey {
			return fmt.Errorf("tunnel.insecure_ignore_host_key cannot be set in production")
		}
		if !c.Auth.Enabled {
			return fmt.Errorf("auth.enabled must be true in production")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters in production")
		}
		if c.Database.Driver != DriverSQLite && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingAddress == "" {
		return fmt.Errorf("telemetry.profiling_address is required when profiling is enabled")
	}

	return nil
}

// WithAddress returns a copy of the config pointing at host:port, used when the
// database is reached through a local tunnel endpoint.
func (d DatabaseConfig) WithAddress(host string, port int) DatabaseConfig {
	d.Host = host
	d.Port = port
	return d
}

// DSN returns the driver-specific connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
			Path:   d.DBName,
		}
		q := u.Query()
		q.Set("sslmode", d.SSLMode)
		if d.ConnectTimeout > 0 {
			q.Set("connect_timeout", fmt.Sprintf("%d", int(d.ConnectTimeout.Seconds())))
		}
		u.RawQuery = q.Encode()
		return u.String()
	case DriverSQLite:
		return d.Path + "?_busy_timeout=5000&_journal_mode=WAL"
	default:
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", d.Host, d.Port)
		mc.DBName = d.DBName
		mc.ParseTime = true
		mc.Loc = time.UTC
		mc.Timeout = d.ConnectTimeout
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return mc.FormatDSN()
	}
}

// MigrationDSN is DSN with multi-statement execution enabled on MySQL,
// which migration files that hold several statements need.
func (d *DatabaseConfig) MigrationDSN() string {
	dsn := d.DSN()
	if d.Driver != DriverMySQL && d.Driver != "" {
		return dsn
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return dsn
	}
	mc.MultiStatements = true
	return mc.FormatDSN()
}
