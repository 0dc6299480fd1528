package config

import (
	"errors"
	"time"
)

// devJWTSecret is the fallback signing key for local development. Refused in
// production by Validate.
const devJWTSecret = "insecure-dev-secret-do-not-deploy"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment    string
	Addr           string
	DatabaseURL    string
	MigrationsDir  string
	JWTSecret      string
	AccessTokenTTL time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:    GetString("APP_ENV", "development"),
		Addr:           GetString("API_ADDR", ":8000"),
		DatabaseURL:    GetString("DATABASE_URL", "postgres://boutique:boutique@db:5432/boutique?sslmode=disable"),
		MigrationsDir:  GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:      GetString("JWT_SECRET", devJWTSecret),
		AccessTokenTTL: time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 30)) * time.Minute,
	}
}

// Validate rejects configurations that must not reach production, most
// importantly the development signing key.
func (c APIConfig) Validate() error {
	if c.Environment == "production" && c.JWTSecret == devJWTSecret {
		return errors.New("JWT_SECRET must be set explicitly in production")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("access token TTL must be positive")
	}
	return nil
}
