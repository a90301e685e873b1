package config

import (
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amoylab/chatmesh/internal/common/cnst"
	"github.com/amoylab/chatmesh/pkg/helper"
	"github.com/amoylab/chatmesh/pkg/trace"
	"github.com/amoylab/chatmesh/pkg/utils"
)

type (
	// ChatMeshConfig is the root configuration of a chatmesh instance
	ChatMeshConfig struct {
		Server   ServerConfig   `yaml:"server"`
		Logger   LoggerConfig   `yaml:"logger"`
		Redis    RedisConfig    `yaml:"redis"`
		Broker   BrokerConfig   `yaml:"broker"`
		Database DatabaseConfig `yaml:"database"`
		Auth     AuthConfig     `yaml:"auth"`
		CORS     CORSConfig     `yaml:"cors"`
		Metrics  MetricsConfig  `yaml:"metrics"`
		Tracing  trace.Config   `yaml:"tracing"`
		I18n     I18nConfig     `yaml:"i18n"`
	}

	// ServerConfig represents the HTTP / websocket listener configuration
	ServerConfig struct {
		Port            int           `yaml:"port"`
		InstanceID      string        `yaml:"instance_id"`      // defaults to $HOSTNAME, then server-<uuid>
		WSPath          string        `yaml:"ws_path"`          // websocket upgrade path
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // graceful shutdown budget
		PingInterval    time.Duration `yaml:"ping_interval"`    // websocket keepalive ping interval
		WriteTimeout    time.Duration `yaml:"write_timeout"`    // per-frame write deadline
		MaxFrameSize    int64         `yaml:"max_frame_size"`   // largest accepted client frame in bytes
	}

	// RedisConfig represents the shared bus and shared store connection
	RedisConfig struct {
		ClusterType string `yaml:"cluster_type"` // single, sentinel or cluster
		Addr        string `yaml:"addr"`         // multiple addresses separated by ';' or ','
		MasterName  string `yaml:"master_name"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
	}

	// BrokerConfig tunes room fan-out and duplicate suppression
	BrokerConfig struct {
		TopicPrefix         string        `yaml:"topic_prefix"`
		RoomsKeyPrefix      string        `yaml:"rooms_key_prefix"`
		DedupHighWater      int           `yaml:"dedup_high_water"`      // size that triggers trimming
		DedupFloor          int           `yaml:"dedup_floor"`           // size kept after trimming
		DedupRetention      time.Duration `yaml:"dedup_retention"`       // age after which ids are forgotten
		CleanupInterval     time.Duration `yaml:"cleanup_interval"`      // age-based eviction period
		CleanupInitialDelay time.Duration `yaml:"cleanup_initial_delay"` // delay before the first eviction
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps
	}

	// AuthConfig selects how the handshake resolves the user identity
	AuthConfig struct {
		Mode string    `yaml:"mode"` // query or jwt
		JWT  JWTConfig `yaml:"jwt"`
	}

	JWTConfig struct {
		SecretKey string        `yaml:"secret_key"`
		Duration  time.Duration `yaml:"duration"`
	}

	CORSConfig struct {
		AllowOrigins     []string      `yaml:"allow_origins"`
		AllowCredentials bool          `yaml:"allow_credentials"`
		MaxAge           time.Duration `yaml:"max_age"`
	}

	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Path      string    `yaml:"path"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	I18nConfig struct {
		DefaultLang string `yaml:"default_lang"`
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*ChatMeshConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	data = resolveEnv(data)
	var cfg ChatMeshConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	SetDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, cfgPath, err
	}
	return &cfg, cfgPath, nil
}

// SetDefaults fills zero values with the documented defaults
func SetDefaults(cfg *ChatMeshConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = DefaultInstanceID()
	}
	if cfg.Server.WSPath == "" {
		cfg.Server.WSPath = "/ws/chat"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.PingInterval <= 0 {
		cfg.Server.PingInterval = 30 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.MaxFrameSize <= 0 {
		cfg.Server.MaxFrameSize = 64 << 10
	}

	if cfg.Redis.ClusterType == "" {
		cfg.Redis.ClusterType = cnst.RedisClusterTypeSingle
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	b := &cfg.Broker
	if b.TopicPrefix == "" {
		b.TopicPrefix = cnst.DefaultRoomTopicPrefix
	}
	if b.RoomsKeyPrefix == "" {
		b.RoomsKeyPrefix = cnst.DefaultServerRoomsKeyPrefix
	}
	if b.DedupHighWater <= 0 {
		b.DedupHighWater = 1000
	}
	if b.DedupFloor <= 0 {
		b.DedupFloor = b.DedupHighWater / 2
	}
	if b.DedupRetention <= 0 {
		b.DedupRetention = time.Minute
	}
	if b.CleanupInterval <= 0 {
		b.CleanupInterval = time.Minute
	}
	if b.CleanupInitialDelay <= 0 {
		b.CleanupInitialDelay = 30 * time.Second
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.DBName == "" {
		cfg.Database.DBName = "./data/chatmesh.db"
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = cnst.AuthModeQuery
	}
	if cfg.Auth.JWT.Duration <= 0 {
		cfg.Auth.JWT.Duration = 24 * time.Hour
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = cnst.AppName
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cnst.AppName
	}
	if cfg.I18n.DefaultLang == "" {
		cfg.I18n.DefaultLang = cnst.LangDefault
	}
}

// DefaultInstanceID derives an instance identity from the environment
func DefaultInstanceID() string {
	return utils.FirstNonEmpty(os.Getenv("HOSTNAME"), "server-"+uuid.NewString())
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
