package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	Timezone              string
	MorningHour           int
	NightHour             int
	DebounceMillis        int
	PollIntervalSeconds   int
	SnapshotTTLSeconds    int
	RotationGraceMinutes  int
	AuthSecret            string
	AccessTokenTTLMinutes int
}

func Load() Config {
	// Optional .env for local development; environment always wins.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		Timezone:              getEnv("TIMEZONE", "Asia/Jakarta"),
		MorningHour:           getEnvInt("SHIFT_MORNING_HOUR", 6),
		NightHour:             getEnvInt("SHIFT_NIGHT_HOUR", 18),
		DebounceMillis:        getEnvInt("INVALIDATE_DEBOUNCE_MS", 1000),
		PollIntervalSeconds:   getEnvInt("FALLBACK_POLL_SECONDS", 30),
		SnapshotTTLSeconds:    getEnvInt("SNAPSHOT_TTL_SECONDS", 10),
		RotationGraceMinutes:  getEnvInt("ROTATION_GRACE_MINUTES", 15),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Config) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLSeconds) * time.Second
}

func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
