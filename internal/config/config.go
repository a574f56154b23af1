package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerURL string // REST base, e.g. http://localhost:5000/api/v1
	SocketURL string // websocket endpoint, e.g. ws://localhost:5000/ws
	Token     string // session JWT issued by the backend
	CacheDSN  string

	HTTPTimeout    time.Duration
	TypingDebounce time.Duration // quiescence window before stopTyping
	TypingExpiry   time.Duration // bound on a stale remote typing flag
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getenvMillis(key string, def int) time.Duration {
	ms, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

func MustLoad() Config {
	timeoutSec, _ := strconv.Atoi(getenv("LIBROOM_HTTP_TIMEOUT_SEC", "120"))

	cfg := Config{
		ServerURL:      getenv("LIBROOM_SERVER_URL", "http://localhost:5000/api/v1"),
		SocketURL:      getenv("LIBROOM_SOCKET_URL", "ws://localhost:5000/ws"),
		Token:          getenv("LIBROOM_TOKEN", ""),
		CacheDSN:       getenv("LIBROOM_CACHE_DSN", "file:libchat.db?_pragma=foreign_keys(ON)"),
		HTTPTimeout:    time.Duration(timeoutSec) * time.Second,
		TypingDebounce: getenvMillis("LIBROOM_TYPING_DEBOUNCE_MS", 3000),
		TypingExpiry:   getenvMillis("LIBROOM_TYPING_EXPIRY_MS", 10000),
	}
	return cfg
}
