package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv reads .env (or ENV_FILE) into the process environment. Variables
// already set win, and a missing file is not an error.
func LoadEnv() {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)
}
