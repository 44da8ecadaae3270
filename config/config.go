package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAllowedOrigins are the frontends allowed to call the API when
// CORS_ALLOWED_ORIGINS is not set.
var DefaultAllowedOrigins = []string{
	"http://localhost:5173",
	"https://design-lyart-kappa.vercel.app",
	"https://design-bomj.onrender.com",
}

// Config holds everything the server reads from the environment.
type Config struct {
	Port     string
	MongoURI string
	DBName   string

	JWTSecret string
	TokenTTL  time.Duration

	AllowedOrigins []string
	AllowSelfClaim bool

	AWSRegion     string
	AWSBucketName string
	UploadDir     string

	SendGridAPIKey  string
	MailFromAddress string
	MailFromName    string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	GeminiAPIKey string
	GeminiModel  string
}

// LoadConfig loads environment variables from .env file
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Missing required values are
// reported together.
func FromEnv(getenv func(string) string) (*Config, error) {
	var missing []string

	cfg := &Config{
		Port:               withDefault(getenv("PORT"), "8080"),
		MongoURI:           getenv("MONGO_URI"),
		DBName:             withDefault(getenv("MONGO_DB_NAME"), "microvolunteer"),
		JWTSecret:          getenv("JWT_SECRET"),
		AWSRegion:          withDefault(getenv("AWS_REGION"), "us-east-1"),
		AWSBucketName:      getenv("AWS_BUCKET_NAME"),
		UploadDir:          withDefault(getenv("UPLOAD_DIR"), "user_images"),
		SendGridAPIKey:     getenv("SENDGRID_API_KEY"),
		MailFromAddress:    withDefault(getenv("MAIL_FROM_ADDRESS"), "no-reply@microvolunteer.app"),
		MailFromName:       withDefault(getenv("MAIL_FROM_NAME"), "Micro Volunteer"),
		GoogleClientID:     getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  withDefault(getenv("GOOGLE_REDIRECT_URL"), "http://localhost:8080/api/auth/google/callback"),
		GeminiAPIKey:       getenv("GEMINI_API_KEY"),
		GeminiModel:        withDefault(getenv("GEMINI_MODEL"), "gemini-1.5-flash"),
	}

	if cfg.MongoURI == "" {
		missing = append(missing, "MONGO_URI")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	cfg.TokenTTL = 24 * time.Hour
	if raw := getenv("TOKEN_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_TTL %q: %w", raw, err)
		}
		if ttl <= 0 {
			return nil, errors.New("TOKEN_TTL must be positive")
		}
		cfg.TokenTTL = ttl
	}

	if raw := getenv("ALLOW_SELF_CLAIM"); raw != "" {
		allow, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ALLOW_SELF_CLAIM %q: %w", raw, err)
		}
		cfg.AllowSelfClaim = allow
	}

	cfg.AllowedOrigins = DefaultAllowedOrigins
	if raw := getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		cfg.AllowedOrigins = splitList(raw)
	}

	return cfg, nil
}

// GoogleLoginEnabled reports whether Google OAuth credentials are present.
func (c *Config) GoogleLoginEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func withDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
