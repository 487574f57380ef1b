package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.Role != "head" {
		t.Errorf("Expected Role to be head, got %s", cfg.Global.Role)
	}
	if cfg.Global.Workers != 300 {
		t.Errorf("Expected Workers to be 300, got %d", cfg.Global.Workers)
	}
	if cfg.Global.TickFreq != 10*time.Second {
		t.Errorf("Expected TickFreq to be 10s, got %v", cfg.Global.TickFreq)
	}
	if cfg.Global.Put.MinFreeSpaceMB != 4096 {
		t.Errorf("Expected MinFreeSpaceMB to be 4096, got %d", cfg.Global.Put.MinFreeSpaceMB)
	}
	if cfg.Global.DirSpaceReportDepth != 6 {
		t.Errorf("Expected DirSpaceReportDepth to be 6, got %d", cfg.Global.DirSpaceReportDepth)
	}
	if cfg.Global.Monitor.Port != 9090 {
		t.Errorf("Expected Monitor.Port to be 9090, got %d", cfg.Global.Monitor.Port)
	}
	if cfg.Global.Log.Level != "INFO" {
		t.Errorf("Expected Log.Level to be INFO, got %s", cfg.Global.Log.Level)
	}

	if cfg.Head.DB.Driver != "postgres" {
		t.Errorf("Expected DB.Driver to be postgres, got %s", cfg.Head.DB.Driver)
	}
	if cfg.Head.DB.PoolSz != 10 {
		t.Errorf("Expected DB.PoolSz to be 10, got %d", cfg.Head.DB.PoolSz)
	}
	if cfg.Head.Checksum.MaxTotal != 100 {
		t.Errorf("Expected Checksum.MaxTotal to be 100, got %d", cfg.Head.Checksum.MaxTotal)
	}
	if cfg.Head.FilePulls.MaxPerNode != 5 {
		t.Errorf("Expected FilePulls.MaxPerNode to be 5, got %d", cfg.Head.FilePulls.MaxPerNode)
	}

	if cfg.MDCache.MaxItems != 100000 {
		t.Errorf("Expected MDCache.MaxItems to be 100000, got %d", cfg.MDCache.MaxItems)
	}
	if cfg.MDCache.ItemTTL != 5*time.Minute {
		t.Errorf("Expected MDCache.ItemTTL to be 5m, got %v", cfg.MDCache.ItemTTL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			config:  func() *Configuration { return NewDefault() },
			wantErr: false,
		},
		{
			name: "invalid role",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.Role = "bogus"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid glb.role",
		},
		{
			name: "invalid workers",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.Workers = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "glb.workers must be greater than 0",
		},
		{
			name: "invalid restclient poolsize",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.RestClient.PoolSize = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "glb.restclient.poolsize must be greater than 0",
		},
		{
			name: "same monitor and fcgi ports",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.FCGI.ListenPort = 9090
				cfg.Global.Monitor.Port = 9090
				return cfg
			},
			wantErr: true,
			errMsg:  "cannot be the same",
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.Log.Level = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid glb.log.level",
		},
		{
			name: "head role without db host",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Head.DB.Host = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "head.db.host must be set",
		},
		{
			name: "disk role without headnode url",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.Role = "disk"
				return cfg
			},
			wantErr: true,
			errMsg:  "disk.headnode.domeurl must be set",
		},
		{
			name: "disk role with headnode url is valid",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.Role = "disk"
				cfg.Disk.HeadNode.DomeURL = "https://head.example.org"
				return cfg
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
glb:
  role: head
  workers: 500
  log:
    level: DEBUG

head:
  db:
    host: dbhost.internal
    poolsz: 20
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.Workers != 500 {
		t.Errorf("Expected Workers to be 500, got %d", cfg.Global.Workers)
	}
	if cfg.Global.Log.Level != "DEBUG" {
		t.Errorf("Expected Log.Level to be DEBUG, got %s", cfg.Global.Log.Level)
	}
	if cfg.Head.DB.Host != "dbhost.internal" {
		t.Errorf("Expected DB.Host to be dbhost.internal, got %s", cfg.Head.DB.Host)
	}
	if cfg.Head.DB.PoolSz != 20 {
		t.Errorf("Expected DB.PoolSz to be 20, got %d", cfg.Head.DB.PoolSz)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	testEnvVars := map[string]string{
		"DOME_ROLE":                      "disk",
		"DOME_WORKERS":                   "600",
		"DOME_LOG_LEVEL":                 "ERROR",
		"DOME_MONITOR_PORT":              "9999",
		"DOME_DB_HOST":                   "pg.internal",
		"DOME_DB_POOLSZ":                 "30",
		"DOME_DISK_HEADNODE_DOMEURL":     "https://head.example.org",
		"DOME_MDCACHE_MAXITEMS":          "50000",
	}

	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.Role != "disk" {
		t.Errorf("Expected Role to be disk, got %s", cfg.Global.Role)
	}
	if cfg.Global.Workers != 600 {
		t.Errorf("Expected Workers to be 600, got %d", cfg.Global.Workers)
	}
	if cfg.Global.Log.Level != "ERROR" {
		t.Errorf("Expected Log.Level to be ERROR, got %s", cfg.Global.Log.Level)
	}
	if cfg.Global.Monitor.Port != 9999 {
		t.Errorf("Expected Monitor.Port to be 9999, got %d", cfg.Global.Monitor.Port)
	}
	if cfg.Head.DB.Host != "pg.internal" {
		t.Errorf("Expected DB.Host to be pg.internal, got %s", cfg.Head.DB.Host)
	}
	if cfg.Head.DB.PoolSz != 30 {
		t.Errorf("Expected DB.PoolSz to be 30, got %d", cfg.Head.DB.PoolSz)
	}
	if cfg.Disk.HeadNode.DomeURL != "https://head.example.org" {
		t.Errorf("Expected DomeURL to be set, got %s", cfg.Disk.HeadNode.DomeURL)
	}
	if cfg.MDCache.MaxItems != 50000 {
		t.Errorf("Expected MDCache.MaxItems to be 50000, got %d", cfg.MDCache.MaxItems)
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.Log.Level = "DEBUG"
	cfg.Global.Workers = 750

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	newCfg := NewDefault()
	if err := newCfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Global.Log.Level != "DEBUG" {
		t.Errorf("Expected Log.Level to be DEBUG, got %s", newCfg.Global.Log.Level)
	}
	if newCfg.Global.Workers != 750 {
		t.Errorf("Expected Workers to be 750, got %d", newCfg.Global.Workers)
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
	if _, err := os.Stat(filepath.Dir(configFile)); os.IsNotExist(err) {
		t.Error("Config directory was not created")
	}
}
