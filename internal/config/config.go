// Package config provides configuration for the chat server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Config holds the chat server configuration.
type Config struct {
	// Server settings
	HTTPPort int // HTTP API and WebSocket port
	RPCPort  int // Admin JSON-RPC port, 0 disables it

	// Storage settings
	StorageBackend string
	DataDir        string
	DatabaseURL    string
	ExportDir      string

	// Auth settings
	AdminPassword    string // Seeds the admin credential when none is stored
	PasswordHashCost int

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int
	AllowedOrigins []string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables, after an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	return &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		RPCPort:          getEnvInt("RPC_PORT", 0),
		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", StorageFile)),
		DataDir:          dataDir,
		DatabaseURL:      getEnv("DATABASE_URL", dataDir+"/chat.db"),
		ExportDir:        getEnv("EXPORT_DIR", "exports"),
		AdminPassword:    getEnv("ADMIN_PASSWORD", ""),
		PasswordHashCost: getEnvInt("PASSWORD_HASH_COST", 10),
		PingInterval:     time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:     time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:      time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:   int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		SendBuffer:       getEnvInt("WS_SEND_BUFFER", 256),
		AllowedOrigins:   getEnvList("ALLOWED_ORIGINS"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
