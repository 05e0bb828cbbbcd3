package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	AllowedOrigins []string

	StoreDriver  string
	MongoURI     string
	DatabaseName string

	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	ProofMaxDistanceMeters float64
	MaxUploadSizeMB        int64

	RedisURL string
	NATSURL  string

	ArchiveDriver      string
	GCSBucket          string
	GCSCredentialsFile string
	R2Bucket           string
	R2AccessKeyID      string
	R2SecretAccessKey  string
	R2Endpoint         string
	R2PublicDomain     string

	LogLevel  string
	LogFormat string

	LoginRatePerMinute int

	AdminEmail    string
	AdminPassword string
	AdminName     string
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("STORE_DRIVER", "mongo")
	v.SetDefault("MONGODB_URI", "mongodb://localhost:27017")
	v.SetDefault("DATABASE_NAME", "race")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "24h")
	v.SetDefault("PROOF_MAX_DISTANCE_METERS", 20.0)
	v.SetDefault("MAX_UPLOAD_SIZE_MB", 10)
	v.SetDefault("ARCHIVE_DRIVER", "none")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 20)
	v.SetDefault("ADMIN_NAME", "Admin")
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:                   v.GetString("PORT"),
		AllowedOrigins:         splitList(v.GetString("ALLOWED_ORIGINS")),
		StoreDriver:            strings.ToLower(v.GetString("STORE_DRIVER")),
		MongoURI:               v.GetString("MONGODB_URI"),
		DatabaseName:           v.GetString("DATABASE_NAME"),
		JWTAccessSecret:        v.GetString("JWT_ACCESS_SECRET"),
		JWTRefreshSecret:       v.GetString("JWT_REFRESH_SECRET"),
		AccessTokenTTL:         v.GetDuration("ACCESS_TOKEN_TTL"),
		RefreshTokenTTL:        v.GetDuration("REFRESH_TOKEN_TTL"),
		ProofMaxDistanceMeters: v.GetFloat64("PROOF_MAX_DISTANCE_METERS"),
		MaxUploadSizeMB:        v.GetInt64("MAX_UPLOAD_SIZE_MB"),
		RedisURL:               v.GetString("REDIS_URL"),
		NATSURL:                v.GetString("NATS_URL"),
		ArchiveDriver:          strings.ToLower(v.GetString("ARCHIVE_DRIVER")),
		GCSBucket:              v.GetString("GCS_BUCKET"),
		GCSCredentialsFile:     v.GetString("CREDENTIALS_FILE_LOCATION"),
		R2Bucket:               v.GetString("R2_BUCKET"),
		R2AccessKeyID:          v.GetString("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey:      v.GetString("R2_SECRET_ACCESS_KEY"),
		R2Endpoint:             v.GetString("R2_ENDPOINT"),
		R2PublicDomain:         v.GetString("R2_PUBLIC_DOMAIN"),
		LogLevel:               v.GetString("LOG_LEVEL"),
		LogFormat:              v.GetString("LOG_FORMAT"),
		LoginRatePerMinute:     v.GetInt("LOGIN_RATE_PER_MINUTE"),
		AdminEmail:             v.GetString("ADMIN_EMAIL"),
		AdminPassword:          v.GetString("ADMIN_PASSWORD"),
		AdminName:              v.GetString("ADMIN_NAME"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		return fmt.Errorf("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("config: access and refresh secrets must differ")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("config: token TTLs must be positive")
	}
	switch c.StoreDriver {
	case "mongo", "memory":
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.ArchiveDriver {
	case "none", "":
		c.ArchiveDriver = "none"
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("config: GCS_BUCKET is required for the gcs archive")
		}
	case "r2":
		if c.R2Bucket == "" || c.R2Endpoint == "" {
			return fmt.Errorf("config: R2_BUCKET and R2_ENDPOINT are required for the r2 archive")
		}
	default:
		return fmt.Errorf("config: unknown ARCHIVE_DRIVER %q", c.ArchiveDriver)
	}
	if c.ProofMaxDistanceMeters <= 0 {
		return fmt.Errorf("config: PROOF_MAX_DISTANCE_METERS must be positive")
	}
	if c.MaxUploadSizeMB <= 0 {
		c.MaxUploadSizeMB = 10
	}
	return nil
}

func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadSizeMB << 20
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
