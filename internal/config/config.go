package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerURL    string
	RealtimePath string
	Framing      string

	ReconnectMaxTries        int
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration
	IdleTimeout              time.Duration
	PingInterval             time.Duration
	HandshakeTimeout         time.Duration

	HTTPTimeout   time.Duration
	ActionTimeout time.Duration

	AccessToken string
	Email       string
	Password    string
	DoctorID    string
	MetricsAddr string
}

func Load() Config {
	serverURL := os.Getenv("QMS_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://127.0.0.1:8000"
	}
	realtimePath := os.Getenv("REALTIME_PATH")
	if realtimePath == "" {
		realtimePath = "/ws/tokens"
	}
	framing := os.Getenv("REALTIME_FRAMING")
	if framing == "" {
		framing = "raw"
	}

	return Config{
		ServerURL:                serverURL,
		RealtimePath:             realtimePath,
		Framing:                  framing,
		ReconnectMaxTries:        readInt("REALTIME_RECONNECT_MAX_TRIES", 5),
		ReconnectInitialInterval: readDurationMillis("REALTIME_RECONNECT_INITIAL_MS", 500),
		ReconnectMaxInterval:     readDurationSeconds("REALTIME_RECONNECT_MAX_SECONDS", 30),
		IdleTimeout:              readDurationSeconds("REALTIME_IDLE_TIMEOUT_SECONDS", 60),
		PingInterval:             readDurationSeconds("REALTIME_PING_SECONDS", 25),
		HandshakeTimeout:         readDurationSeconds("REALTIME_HANDSHAKE_SECONDS", 10),
		HTTPTimeout:              readDurationSeconds("HTTP_TIMEOUT_SECONDS", 10),
		ActionTimeout:            readDurationSeconds("ACTION_TIMEOUT_SECONDS", 30),
		AccessToken:              os.Getenv("QMS_ACCESS_TOKEN"),
		Email:                    os.Getenv("QMS_EMAIL"),
		Password:                 os.Getenv("QMS_PASSWORD"),
		DoctorID:                 os.Getenv("QMS_DOCTOR_ID"),
		MetricsAddr:              os.Getenv("METRICS_ADDR"),
	}
}

// RealtimeURL joins the server URL and the push path. The channel maps the
// http scheme to ws itself.
func (c Config) RealtimeURL() string {
	path := c.RealtimePath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(c.ServerURL, "/") + path
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
