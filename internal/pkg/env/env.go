package env

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

var Env map[string]string

// GetEnv returns the value for key, preferring the loaded .env map over the
// process environment so a .env file wins inside containers.
func GetEnv(key, def string) string {
	if val, ok := Env[key]; ok {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvInt parses an integer setting. Malformed or non-positive values fall
// back, so a bad override cannot zero out a pool size or a timeout.
func GetEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(GetEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return fallback
}

// SetupEnvFile loads the first .env found relative to the working directory.
// Missing configuration is fatal at startup.
func SetupEnvFile() {
	envFiles := []string{
		".env",
		"../../.env", // from cmd/neurocanvas
		"../../../.env",
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			return
		}
	}

	panic("No .env file found in any of the expected locations")
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
