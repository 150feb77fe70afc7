package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Auth     AuthConfig     `yaml:"auth"`
	Admin    AdminConfig    `yaml:"admin"`
	Engine   EngineConfig   `yaml:"engine"`
	Tokens   []TokenConfig  `yaml:"tokens"`
	CORS     CORSConfig     `yaml:"cors"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL            string `yaml:"url"`
	Timeout        int    `yaml:"timeout"`
	ReconnectWait  int    `yaml:"reconnect_wait"`
	MaxReconnects  int    `yaml:"max_reconnects"`
	DepositSubject string `yaml:"deposit_subject"` // incoming chain deposit events
	EventPrefix    string `yaml:"event_prefix"`    // outgoing engine event subject prefix
}

// AuthConfig user authentication configuration
type AuthConfig struct {
	JWTSecret       string `yaml:"jwtSecret"`
	TokenTTLMinutes int    `yaml:"tokenTtlMinutes"`
}

// AdminConfig admin login configuration
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"passwordHash"` // bcrypt hash
	TOTPSecret   string `yaml:"totpSecret"`
}

// EngineConfig settlement engine configuration
type EngineConfig struct {
	OwnerAddress    string `yaml:"ownerAddress"`    // initial administrative principal
	TreasuryAddress string `yaml:"treasuryAddress"` // platform fee destination account
	DefaultFeeBps   int64  `yaml:"defaultFeeBps"`   // used only when no fee row exists yet
}

// TokenConfig metadata for a payment token surfaced by the currencies API
type TokenConfig struct {
	Symbol   string   `yaml:"symbol"`
	Name     string   `yaml:"name"`
	Address  string   `yaml:"address"`
	Decimals int      `yaml:"decimals"`
	Networks []string `yaml:"networks"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

var AppConfig *Config

// LoadConfig loads the configuration file and applies environment overrides
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)

	if err := validate(&config); err != nil {
		return err
	}

	AppConfig = &config
	log.Printf("Configuration loaded from %s", configPath)
	return nil
}

func validate(config *Config) error {
	if config.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if config.Engine.OwnerAddress == "" {
		return fmt.Errorf("engine.ownerAddress is required")
	}
	if config.Engine.TreasuryAddress == "" {
		return fmt.Errorf("engine.treasuryAddress is required")
	}
	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtSecret is required")
	}
	return nil
}

// overrideFromEnv applies environment variable overrides on top of the YAML values
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		config.Admin.PasswordHash = hash
	}
	if totp := os.Getenv("ADMIN_TOTP_SECRET"); totp != "" {
		config.Admin.TOTPSecret = totp
	}

	if owner := os.Getenv("ENGINE_OWNER_ADDRESS"); owner != "" {
		config.Engine.OwnerAddress = owner
	}
	if treasury := os.Getenv("ENGINE_TREASURY_ADDRESS"); treasury != "" {
		config.Engine.TreasuryAddress = treasury
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}

// FindToken returns the configured metadata for a token address, if any
func FindToken(address string) (*TokenConfig, bool) {
	if AppConfig == nil {
		return nil, false
	}
	for i := range AppConfig.Tokens {
		if strings.EqualFold(AppConfig.Tokens[i].Address, address) {
			return &AppConfig.Tokens[i], true
		}
	}
	return nil, false
}
