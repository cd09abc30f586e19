package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MinJWTSecretLength is the shortest signing secret accepted for tokens.
const MinJWTSecretLength = 32

// Secrets are credentials read from the environment, never from jig.yaml.
type Secrets struct {
	JWTSecret           string `env:"JIG_JWT_SECRET"`
	DBPassword          string `env:"JIG_DB_PASSWORD"`
	OpenAIAPIKey        string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey     string `env:"ANTHROPIC_API_KEY"`
	DiscordWebhookToken string `env:"JIG_DISCORD_WEBHOOK_TOKEN"`
	FileSigningKey      string `env:"JIG_FILE_SIGNING_KEY"`
}

// DefaultEnvFiles are loaded in order by LoadSecrets when no files are given.
var DefaultEnvFiles = []string{".env", ".env.local"}

// LoadSecrets loads optional dotenv files into the process environment and
// parses the secret set. Variables already present in the environment win.
func LoadSecrets(envFiles ...string) (*Secrets, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if s.FileSigningKey == "" {
		s.FileSigningKey = s.JWTSecret
	}
	return &s, nil
}

// RequireJWT checks that the token signing secret is usable.
func (s *Secrets) RequireJWT() error {
	if s.JWTSecret == "" {
		return fmt.Errorf("config: JIG_JWT_SECRET is required")
	}
	if len(s.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("config: JIG_JWT_SECRET must be at least %d characters", MinJWTSecretLength)
	}
	return nil
}
