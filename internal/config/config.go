package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete daemon configuration, covering both
// the head-node and disk-node roles plus the ambient monitor (glb.monitor)
// and log (glb.log) settings. The domehead and domedisk commands both read
// this tree; each then sets Global.Role to its own role.
type Configuration struct {
	Global GlobalConfig `yaml:"glb"`
	Head HeadConfig `yaml:"head"`
	Disk DiskConfig `yaml:"disk"`
	MDCache MDCacheConfig `yaml:"mdcache"`
}

// GlobalConfig holds settings shared by both roles (glb.*).
type GlobalConfig struct {
	Role string `yaml:"role"`
	Workers int `yaml:"workers"`
	TickFreq time.Duration `yaml:"tickfreq"`
	FCGI FCGIConfig `yaml:"fcgi"`
	Auth AuthConfig `yaml:"auth"`
	RestClient RestClientConfig `yaml:"restclient"`
	ReloadFSQuotas time.Duration `yaml:"reloadfsquotas"`
	FSCheckInterval time.Duration `yaml:"fscheckinterval"`
	Task TaskConfig `yaml:"task"`
	Put PutConfig `yaml:"put"`
	DirSpaceReportDepth int `yaml:"dirspacereportdepth"`
	Monitor MonitorConfig `yaml:"monitor"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log LogConfig `yaml:"log"`
	// HeadNodeName is the hostname isDNaKnownServer compares a peer DN
	// against, in addition to the local hostname and every filesystem
	// server. Defaults to os.Hostname().
	HeadNodeName string `yaml:"headnodename"`
}

// FCGIConfig controls the FastCGI frontend.
type FCGIConfig struct {
	ListenPort int `yaml:"listenport"`
}

// AuthConfig holds the whitelist of DNs allowed to act as a trusted peer
// (head talking to disk, disk talking to head).
type AuthConfig struct {
	AuthorizeDN []string `yaml:"authorizeDN"`
}

// RestClientConfig controls the outbound HTTP client pool used for
// head<->disk REST calls.
type RestClientConfig struct {
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	OpsTimeout time.Duration `yaml:"ops_timeout"`
	SSLCheck bool `yaml:"ssl_check"`
	CAPath string `yaml:"ca_path"`
	CliPrivateKey string `yaml:"cli_private_key"`
	CliCertificate string `yaml:"cli_certificate"`
	PoolSize int `yaml:"poolsize"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitbreaker"`
}

// CircuitBreakerConfig controls the breaker wrapping outbound REST calls.
type CircuitBreakerConfig struct {
	Threshold int `yaml:"threshold"`
	Timeout time.Duration `yaml:"timeout"`
}

// TaskConfig bounds how long a background task (checksum/pull/other) may
// run before it is killed, and how long a finished task's record is kept.
type TaskConfig struct {
	MaxRunningTime time.Duration `yaml:"maxrunningtime"`
	PurgeTime time.Duration `yaml:"purgetime"`
}

// PutConfig controls placement-time admission.
type PutConfig struct {
	MinFreeSpaceMB int64 `yaml:"minfreespace_mb"`
}

// MonitorConfig exposes the ambient /health /status /metrics surface.
type MonitorConfig struct {
	Port int `yaml:"port"`
}

// MetricsConfig controls the Prometheus collector embedded behind the
// monitor server's /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
	Format string `yaml:"format"`
	File string `yaml:"file"`
}

// HeadConfig holds settings that only apply when Global.Role == "head".
type HeadConfig struct {
	DB DBConfig `yaml:"db"`
	Checksum QueueConfig `yaml:"checksum"`
	FilePulls QueueConfig `yaml:"filepulls"`
	FilePuller HeadPullerConfig `yaml:"filepuller"`
}

// DBConfig is the relational store connection.
type DBConfig struct {
	Host string `yaml:"host"`
	User string `yaml:"user"`
	Password string `yaml:"password"`
	Port int `yaml:"port"`
	PoolSz int `yaml:"poolsz"`
	Driver string `yaml:"driver"`
}

// QueueConfig bounds a generic priority queue's admission (shared shape for
// the checksum and file-pull queues).
type QueueConfig struct {
	MaxTotal int `yaml:"maxtotal"`
	MaxPerNode int `yaml:"maxpernode"`
	QTmout time.Duration `yaml:"qtmout"`
}

// HeadPullerConfig configures the head's stat-hook path used to verify a
// pulled file landed correctly.
type HeadPullerConfig struct {
	StatHook string `yaml:"stathook"`
	StatHookTimeout time.Duration `yaml:"stathooktimeout"`
}

// DiskConfig holds settings that only apply when Global.Role == "disk".
type DiskConfig struct {
	DB DBConfig `yaml:"db"`
	HeadNode DiskHeadNodeConfig `yaml:"headnode"`
	FilePuller DiskPullerConfig `yaml:"filepuller"`
	ChecksumBin string `yaml:"checksumbin"`
}

// DiskHeadNodeConfig tells a disk node where its head node lives.
type DiskHeadNodeConfig struct {
	DomeURL string `yaml:"domeurl"`
}

// DiskPullerConfig configures the external pull-hook binary.
type DiskPullerConfig struct {
	PullHook string `yaml:"pullhook"`
}

// MDCacheConfig controls the metadata cache's size and entry lifetime.
type MDCacheConfig struct {
	MaxItems int `yaml:"maxitems"`
	ItemTTL time.Duration `yaml:"itemttl"`
	ItemMaxTTL time.Duration `yaml:"itemmaxttl"`
	ItemTTLNegative time.Duration `yaml:"itemttl_negative"`
}

func defaultHeadNodeName() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "localhost"
}

// NewDefault returns a configuration with this module's documented defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			Role: "head",
			Workers: 300,
			TickFreq: 10 * time.Second,
			FCGI: FCGIConfig{
				ListenPort: 0,
			},
			Auth: AuthConfig{
				AuthorizeDN: []string{},
			},
			RestClient: RestClientConfig{
				ConnTimeout: 10 * time.Second,
				OpsTimeout: 30 * time.Second,
				SSLCheck: true,
				CAPath: "",
				CliPrivateKey: "",
				CliCertificate: "",
				PoolSize: 8,
				CircuitBreaker: CircuitBreakerConfig{
					Threshold: 5,
					Timeout: 60 * time.Second,
				},
			},
			ReloadFSQuotas: 5 * time.Minute,
			FSCheckInterval: 5 * time.Minute,
			Task: TaskConfig{
				MaxRunningTime: 24 * time.Hour,
				PurgeTime: 7 * 24 * time.Hour,
			},
			Put: PutConfig{
				MinFreeSpaceMB: 4096,
			},
			DirSpaceReportDepth: 6,
			Monitor: MonitorConfig{
				Port: 9090,
			},
			Metrics: MetricsConfig{
				Enabled: true,
			},
			Log: LogConfig{
				Level: "INFO",
				Format: "json",
				File: "",
			},
			HeadNodeName: defaultHeadNodeName(),
		},
		Head: HeadConfig{
			DB: DBConfig{
				Host: "localhost",
				User: "dome",
				Port: 5432,
				PoolSz: 10,
				Driver: "postgres",
			},
			Checksum: QueueConfig{
				MaxTotal: 100,
				MaxPerNode: 5,
				QTmout: 1 * time.Hour,
			},
			FilePulls: QueueConfig{
				MaxTotal: 100,
				MaxPerNode: 5,
				QTmout: 1 * time.Hour,
			},
			FilePuller: HeadPullerConfig{
				StatHook: "",
				StatHookTimeout: 30 * time.Second,
			},
		},
		Disk: DiskConfig{
			DB: DBConfig{
				Host: "localhost",
				Driver: "pgx",
				PoolSz: 5,
			},
			HeadNode: DiskHeadNodeConfig{
				DomeURL: "",
			},
			FilePuller: DiskPullerConfig{
				PullHook: "",
			},
			ChecksumBin: "/usr/bin/dome-checksum",
		},
		MDCache: MDCacheConfig{
			MaxItems: 100000,
			ItemTTL: 5 * time.Minute,
			ItemMaxTTL: 1 * time.Hour,
			ItemTTLNegative: 30 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays a fixed set of DOME_* environment variables onto the
// configuration (DOME_DB_* set head.db.*, DOME_DISK_* set disk.*, and the
// glb.* keys drop their section prefix, e.g. DOME_ROLE). Values that fail
// to parse as a number or duration are ignored.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("DOME_ROLE"); val != "" {
		c.Global.Role = val
	}
	if val := os.Getenv("DOME_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Global.Workers = n
		}
	}
	if val := os.Getenv("DOME_TICKFREQ"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Global.TickFreq = d
		}
	}
	if val := os.Getenv("DOME_FCGI_LISTENPORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Global.FCGI.ListenPort = n
		}
	}
	if val := os.Getenv("DOME_LOG_LEVEL"); val != "" {
		c.Global.Log.Level = val
	}
	if val := os.Getenv("DOME_LOG_FILE"); val != "" {
		c.Global.Log.File = val
	}
	if val := os.Getenv("DOME_MONITOR_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Global.Monitor.Port = n
		}
	}
	if val := os.Getenv("DOME_PUT_MINFREESPACE_MB"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Global.Put.MinFreeSpaceMB = n
		}
	}
	if val := os.Getenv("DOME_HEADNODENAME"); val != "" {
		c.Global.HeadNodeName = val
	}

	if val := os.Getenv("DOME_DB_HOST"); val != "" {
		c.Head.DB.Host = val
	}
	if val := os.Getenv("DOME_DB_USER"); val != "" {
		c.Head.DB.User = val
	}
	if val := os.Getenv("DOME_DB_PASSWORD"); val != "" {
		c.Head.DB.Password = val
	}
	if val := os.Getenv("DOME_DB_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Head.DB.Port = n
		}
	}
	if val := os.Getenv("DOME_DB_POOLSZ"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Head.DB.PoolSz = n
		}
	}
	if val := os.Getenv("DOME_DB_DRIVER"); val != "" {
		c.Head.DB.Driver = val
	}

	if val := os.Getenv("DOME_DISK_HEADNODE_DOMEURL"); val != "" {
		c.Disk.HeadNode.DomeURL = val
	}
	if val := os.Getenv("DOME_DISK_FILEPULLER_PULLHOOK"); val != "" {
		c.Disk.FilePuller.PullHook = val
	}
	if val := os.Getenv("DOME_DISK_DB_HOST"); val != "" {
		c.Disk.DB.Host = val
	}
	if val := os.Getenv("DOME_DISK_CHECKSUMBIN"); val != "" {
		c.Disk.ChecksumBin = val
	}

	if val := os.Getenv("DOME_MDCACHE_MAXITEMS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.MDCache.MaxItems = n
		}
	}
	if val := os.Getenv("DOME_MDCACHE_ITEMTTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.MDCache.ItemTTL = d
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Configuration) Validate() error {
	if c.Global.Role != "head" && c.Global.Role != "disk" {
		return fmt.Errorf("invalid glb.role: %s (must be 'head' or 'disk')", c.Global.Role)
	}

	if c.Global.Workers <= 0 {
		return fmt.Errorf("glb.workers must be greater than 0")
	}

	if c.Global.RestClient.PoolSize <= 0 {
		return fmt.Errorf("glb.restclient.poolsize must be greater than 0")
	}

	if c.Global.Monitor.Port == c.Global.FCGI.ListenPort && c.Global.Monitor.Port != 0 {
		return fmt.Errorf("glb.monitor.port and glb.fcgi.listenport cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.Log.Level == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid glb.log.level: %s (must be one of: %s)",
			c.Global.Log.Level, strings.Join(validLogLevels, ", "))
	}

	if c.Global.Role == "head" {
		if c.Head.DB.Host == "" {
			return fmt.Errorf("head.db.host must be set when glb.role is 'head'")
		}
		if c.Head.DB.PoolSz <= 0 {
			return fmt.Errorf("head.db.poolsz must be greater than 0")
		}
	}

	if c.Global.Role == "disk" {
		if c.Disk.HeadNode.DomeURL == "" {
			return fmt.Errorf("disk.headnode.domeurl must be set when glb.role is 'disk'")
		}
		if c.Disk.DB.Host == "" {
			return fmt.Errorf("disk.db.host must be set when glb.role is 'disk'")
		}
	}

	if c.MDCache.MaxItems <= 0 {
		return fmt.Errorf("mdcache.maxitems must be greater than 0")
	}

	return nil
}
