package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	folderEnvVar   = "FOLDER"
	logLevelEnvVar = "LOG_LEVEL"
	apiBaseURLVar  = "API_BASE_URL"
	timeoutVar     = "REQUEST_TIMEOUT"
)

type EnvVars struct {
	values FileValues
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.values.get(portEnvVar, "8081")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.values.get(appNameVar, "Order101 Console")
}

func (e EnvVars) GetDataFolder() string {
	return e.values.get(folderEnvVar, "./data")
}

// GetLogLevel returns a zerolog level name ("debug", "info", ...).
func (e EnvVars) GetLogLevel() string {
	return e.values.get(logLevelEnvVar, "info")
}

func (e EnvVars) GetEnv() string {
	return e.values.get("ENV", "DEV")
}

type Client struct {
	values FileValues
}

var _ ClientConfig = Client{}

// GetAPIBaseURL returns the REST backend base URL (e.g., "https://order101.link")
func (c Client) GetAPIBaseURL() string {
	return strings.TrimRight(c.values.get(apiBaseURLVar, "http://localhost:8080"), "/")
}

func (c Client) GetRequestTimeout() time.Duration {
	return c.values.getDuration(timeoutVar, 30*time.Second)
}

func (Client) GetLoginPath() string {
	return "/login"
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
