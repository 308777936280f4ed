package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the environment driven configuration for the chat sync daemon.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	Env       string `env:"ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// Firebase
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH"`
	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`

	// Backends
	DocStore   string `env:"DOC_STORE" envDefault:"firestore"` // firestore or memory
	LocalStore string `env:"LOCAL_STORE" envDefault:"memory"`  // memory, postgres, mongo or redis

	PostgresURL   string `env:"POSTGRES_URL"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"chatsync"`
	RedisURL      string `env:"REDIS_URL"`

	// Sync tuning
	ProfileTTL         time.Duration `env:"PROFILE_TTL" envDefault:"168h"`
	ProfileConcurrency int           `env:"PROFILE_CONCURRENCY" envDefault:"12"`
	ProfileCacheSize   int           `env:"PROFILE_CACHE_SIZE" envDefault:"2048"`
	ReconcileWindow    time.Duration `env:"RECONCILE_WINDOW" envDefault:"15s"`
	PendingTTL         time.Duration `env:"PENDING_TTL" envDefault:"2m"`
	MessagePageSize    int           `env:"MESSAGE_PAGE_SIZE" envDefault:"25"`
	ConversationLimit  int           `env:"CONVERSATION_LIMIT" envDefault:"50"`
	NotificationTTL    time.Duration `env:"NOTIFICATION_TTL" envDefault:"10s"`

	// Password reset code service
	ResetCodeURL     string        `env:"RESET_CODE_URL" envDefault:"http://localhost:3000"`
	ResetCodeTimeout time.Duration `env:"RESET_CODE_TIMEOUT" envDefault:"10s"`
}

// Load reads an optional .env file and parses the environment into Config.
func Load() (*Config, error) {
	// A missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.DocStore = strings.ToLower(strings.TrimSpace(c.DocStore))
	c.LocalStore = strings.ToLower(strings.TrimSpace(c.LocalStore))

	switch c.DocStore {
	case "firestore", "memory":
	default:
		return fmt.Errorf("unsupported DOC_STORE %q", c.DocStore)
	}
	switch c.LocalStore {
	case "memory", "postgres", "mongo", "redis":
	default:
		return fmt.Errorf("unsupported LOCAL_STORE %q", c.LocalStore)
	}

	if c.ProfileConcurrency <= 0 {
		c.ProfileConcurrency = 12
	}
	if c.MessagePageSize <= 0 {
		c.MessagePageSize = 25
	}
	if c.ConversationLimit <= 0 {
		c.ConversationLimit = 50
	}
	if c.ProfileCacheSize <= 0 {
		c.ProfileCacheSize = 2048
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
