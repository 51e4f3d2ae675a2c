package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Audit       AuditConfig
	Replication ReplicationConfig
	Health      HealthConfig
	Autoheal    AutohealConfig
	Learning    LearningConfig
	Scheduler   SchedulerConfig
	Bus         BusConfig
	RemoteWrite RemoteWriteConfig
	RBAC        RBACConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type StoreConfig struct {
	// Mode selects the backend: sqlite, file or dual.
	Mode         string
	SQLitePath   string
	DataDir      string
	BackupRetain int
}

type AuditConfig struct {
	ChainPath string
}

type ReplicationConfig struct {
	Enabled     bool
	Target      string // "file:<dir>" or "http:<url>"
	MaxQueue    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	HTTPTimeout time.Duration
}

type HealthConfig struct {
	Interval           time.Duration
	SchedulerStaleness time.Duration
	AutoRecovery       bool
}

type AutohealConfig struct {
	Mode                string // live or simulated
	MaxReplay           int
	CooldownMinutes     int
	BusinessHoursOnly   bool
	BusinessHoursStart  int
	BusinessHoursEnd    int
	AllowedTriageLabels []string
	HistorySize         int
}

type LearningConfig struct {
	Decay       float64
	HistorySize int
}

type SchedulerConfig struct {
	WorkerCount  int
	TickInterval time.Duration
}

type BusConfig struct {
	Capacity int
}

type RemoteWriteConfig struct {
	URL           string
	TenantHeader  string
	BatchSize     int
	FlushInterval time.Duration
	AuthToken     string
}

type RBACConfig struct {
	OperatorMarkers []string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("CC")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("store.mode", "sqlite")
	viper.SetDefault("store.sqlitepath", "data/commandcenter.db")
	viper.SetDefault("store.datadir", "data")
	viper.SetDefault("store.backupretain", 5)
	viper.SetDefault("audit.chainpath", "data/audit_chain.jsonl")
	viper.SetDefault("replication.enabled", false)
	viper.SetDefault("replication.target", "file:data/replica")
	viper.SetDefault("replication.maxqueue", 500)
	viper.SetDefault("replication.basebackoff", "1s")
	viper.SetDefault("replication.maxbackoff", "60s")
	viper.SetDefault("replication.httptimeout", "5s")
	viper.SetDefault("health.interval", "30s")
	viper.SetDefault("health.schedulerstaleness", "3m")
	viper.SetDefault("health.autorecovery", true)
	viper.SetDefault("autoheal.mode", "live")
	viper.SetDefault("autoheal.maxreplay", 100)
	viper.SetDefault("autoheal.cooldownminutes", 30)
	viper.SetDefault("autoheal.businesshoursonly", false)
	viper.SetDefault("autoheal.businesshoursstart", 8)
	viper.SetDefault("autoheal.businesshoursend", 20)
	viper.SetDefault("autoheal.allowedtriagelabels", []string{"transient", "rate-limited", "timeout"})
	viper.SetDefault("autoheal.historysize", 200)
	viper.SetDefault("learning.decay", 0.8)
	viper.SetDefault("learning.historysize", 500)
	viper.SetDefault("scheduler.workercount", 4)
	viper.SetDefault("scheduler.tickinterval", "10s")
	viper.SetDefault("bus.capacity", 1000)
	viper.SetDefault("remotewrite.tenantheader", "X-Scope-OrgID")
	viper.SetDefault("remotewrite.batchsize", 1000)
	viper.SetDefault("remotewrite.flushinterval", "15s")
	viper.SetDefault("rbac.operatormarkers", []string{})

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if target := os.Getenv("REPLICATION_TARGET"); target != "" {
		cfg.Replication.Target = target
	}
	if url := os.Getenv("REMOTE_WRITE_URL"); url != "" {
		cfg.RemoteWrite.URL = url
	}
	if token := os.Getenv("REMOTE_WRITE_AUTH_TOKEN"); token != "" {
		cfg.RemoteWrite.AuthToken = token
	}
	if marker := os.Getenv("OPERATOR_MARKER"); marker != "" {
		cfg.RBAC.OperatorMarkers = append(cfg.RBAC.OperatorMarkers, marker)
	}

	return &cfg, nil
}
