package config

import "time"

type Config interface {
	EnvConfig
	CorsConfig
	ClientConfig
	NotificationConfig
	SessionConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetLogLevel() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// ClientConfig covers the connection to the order101 REST backend.
type ClientConfig interface {
	GetAPIBaseURL() string
	GetRequestTimeout() time.Duration
	GetLoginPath() string
}

type mainConfig struct {
	EnvVars
	Cors
	Client
	Notifications
	Sessions
}

// New builds a Config from environment variables only.
func New() Config {
	return newMainConfig(nil)
}

// NewFromFile builds a Config from environment variables layered over a YAML file.
// Environment variables always win over file values.
func NewFromFile(path string) (Config, error) {
	values, err := Load(path)
	if err != nil {
		return nil, err
	}
	return newMainConfig(values), nil
}

func newMainConfig(values FileValues) Config {
	return mainConfig{
		EnvVars:       EnvVars{values},
		Cors:          Cors{values},
		Client:        Client{values},
		Notifications: Notifications{values},
		Sessions:      Sessions{values},
	}
}
