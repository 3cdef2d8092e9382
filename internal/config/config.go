package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/emrgen/omnistore/internal/catalog"
	"github.com/emrgen/omnistore/internal/engagement"
	"github.com/joeshaw/envdecode"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DBConfig struct {
	Type string `env:"DB_TYPE,default=sqlite"`
	// URL is a postgres dsn or a sqlite file path.
	URL string `env:"DB_URL,default=omnistore.db"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
	Prefix   string `env:"REDIS_PREFIX,default=omnistore:"`
}

type KafkaConfig struct {
	Brokers string `env:"KAFKA_BROKERS"`
	Group   string `env:"KAFKA_GROUP,default=omnistore"`
	Topic   string `env:"KAFKA_TOPIC,default=omnistore.object.events"`
}

type Config struct {
	GrpcPort      string        `env:"GRPC_PORT,default=4000"`
	HttpPort      string        `env:"HTTP_PORT,default=4001"`
	LogLevel      string        `env:"LOG_LEVEL,default=info"`
	Codec         string        `env:"CONTENT_CODEC,default=none"`
	SettingsFile  string        `env:"SETTINGS_FILE"`
	ViewCooldown  time.Duration `env:"VIEW_COOLDOWN,default=1h"`
	ReconcileCron string        `env:"RECONCILE_CRON,default=@every 10m"`
	AuditCron     string        `env:"AUDIT_CRON,default=@every 30m"`

	DB    DBConfig
	Redis RedisConfig
	Kafka KafkaConfig
}

// Settings are the tunables read from the optional yaml settings file.
type Settings struct {
	Catalog catalog.Settings  `yaml:"catalog"`
	Scores  engagement.Scores `yaml:"reactionScores"`
}

// LoadConfig reads the environment (and .env) into a Config.
func LoadConfig() (*Config, error) {
	var cfg Config
	err := envdecode.Decode(&cfg)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)

	return &cfg, nil
}

// MustLoadConfig is LoadConfig for command entry points.
func MustLoadConfig() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadSettings reads the settings file named by cfg, falling back to the
// defaults for anything the file leaves out.
func LoadSettings(cfg *Config) (*Settings, error) {
	settings := &Settings{
		Catalog: catalog.DefaultSettings(),
		Scores:  engagement.DefaultScores(),
	}
	if cfg.SettingsFile == "" {
		return settings, nil
	}

	data, err := os.ReadFile(cfg.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var file Settings
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	for k, n := range file.Catalog.MaxObjects {
		if n < 0 {
			return nil, fmt.Errorf("settings: maxObjects.%s must not be negative", k)
		}
		settings.Catalog.MaxObjects[k] = n
	}
	settings.Scores = settings.Scores.Merge(file.Scores)

	return settings, nil
}

// GetDb opens the configured database.
func GetDb(cfg *Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	switch cfg.DB.Type {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DB.URL), gormConfig)
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DB.URL), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", cfg.DB.Type)
	}
}

// MustGetDb is GetDb for command entry points.
func MustGetDb(cfg *Config) *gorm.DB {
	db, err := GetDb(cfg)
	if err != nil {
		logrus.Fatalf("failed to open database: %v", err)
	}
	return db
}
