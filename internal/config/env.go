package config

import (
	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from the first .env file found in the
// current directory or its parents. Variables already set in the environment win.
func LoadEnv() (string, error) {
	envPaths := []string{".env", "../.env", "../../.env"}

	for _, envPath := range envPaths {
		if err := godotenv.Load(envPath); err == nil {
			return envPath, nil
		}
	}
	return "", nil
}
