package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile          string
	APIAddr         string
	BaseURL         string
	UploadsPath     string
	TokenExpiry     time.Duration
	BacklogLimit    int
	MaxPinned       int
	MaxMessageBytes int
	TypingTTL       time.Duration
	EventsPerSec    float64
	EventBurst      int
	OutboundQueue   int
	MaxRoomMembers  int
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushContact     string
}

func Load() (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, err
	}

	typingTTL, err := time.ParseDuration(getEnv("TYPING_TTL", "4s"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBFile:          getEnv("ARENACHAT_DB", "arenachat.db"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath:     getEnv("UPLOADS_PATH", "uploads"),
		TokenExpiry:     tokenExpiry,
		BacklogLimit:    getEnvInt("BACKLOG_LIMIT", 500),
		MaxPinned:       getEnvInt("MAX_PINNED", 10),
		MaxMessageBytes: getEnvInt("MAX_MESSAGE_BYTES", 8192),
		TypingTTL:       typingTTL,
		EventsPerSec:    float64(getEnvInt("EVENTS_PER_SEC", 20)),
		EventBurst:      getEnvInt("EVENT_BURST", 40),
		OutboundQueue:   getEnvInt("OUTBOUND_QUEUE", 128),
		MaxRoomMembers:  getEnvInt("MAX_ROOM_MEMBERS", 512),
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		PushContact:     getEnv("PUSH_CONTACT", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.BacklogLimit <= 0 {
		return fmt.Errorf("BACKLOG_LIMIT must be greater than 0")
	}
	if c.MaxPinned <= 0 {
		return fmt.Errorf("MAX_PINNED must be greater than 0")
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("TYPING_TTL must be greater than 0")
	}
	if c.OutboundQueue <= 0 {
		return fmt.Errorf("OUTBOUND_QUEUE must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
