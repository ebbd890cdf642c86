package config

import "strings"

// Session storage backends for the durable ("remember me") scope.
const (
	SessionBackendFile   = "file"
	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"
)

type SessionConfig interface {
	GetSessionBackend() string
	GetSessionKey() string
	GetRedisAddr() string
	GetRedisDB() int
}

type Sessions struct {
	values FileValues
}

var _ SessionConfig = Sessions{}

func (s Sessions) GetSessionBackend() string {
	switch backend := strings.ToLower(s.values.get("SESSION_BACKEND", SessionBackendFile)); backend {
	case SessionBackendRedis, SessionBackendMemory:
		return backend
	default:
		return SessionBackendFile
	}
}

// GetSessionKey is the passphrase the file store derives its encryption key from.
func (s Sessions) GetSessionKey() string {
	return s.values.get("SESSION_KEY", "order101-console-dev-key")
}

func (s Sessions) GetRedisAddr() string {
	return s.values.get("REDIS_ADDR", "localhost:6379")
}

func (s Sessions) GetRedisDB() int {
	return s.values.getInt("REDIS_DB", 0)
}
