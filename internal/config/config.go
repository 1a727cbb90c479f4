package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	HttpAddr      string

	Timeframes  []time.Duration
	HistorySize int

	DropThreshold   float64
	MaxQueueSize    int
	MaxQueueBytes   int
	MinSendInterval time.Duration
	HealthFloor     float64

	SupplyTTL     time.Duration
	DefaultSupply float64

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	Debug bool
}

// Load reads configuration from the environment, with local defaults.
// An optional .env file is honored if present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       mustAtoi(getEnv("REDIS_DB", "0")),
		HttpAddr:      getEnv("HTTP_ADDR", ":8080"),

		Timeframes:  parseTimeframes(getEnv("TIMEFRAMES", "60s,300s,900s,1h")),
		HistorySize: mustAtoi(getEnv("HISTORY_SIZE", "500")),

		DropThreshold:   mustParseFloat(getEnv("DROP_THRESHOLD", "0.8")),
		MaxQueueSize:    mustAtoi(getEnv("MAX_QUEUE_SIZE", "100")),
		MaxQueueBytes:   mustAtoi(getEnv("MAX_QUEUE_BYTES", "10485760")),
		MinSendInterval: parseDuration(getEnv("MIN_SEND_INTERVAL", "10ms")),
		HealthFloor:     mustParseFloat(getEnv("HEALTH_FLOOR", "0.1")),

		SupplyTTL:     parseDuration(getEnv("SUPPLY_TTL", "10m")),
		DefaultSupply: mustParseFloat(getEnv("DEFAULT_SUPPLY", "1000000000")),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "swaps"),
		KafkaGroup:   getEnv("KAFKA_GROUP", "candle-stream"),

		Debug: getEnvBool("DEBUG", false),
	}
}

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}

func mustAtoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func mustParseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatal(err)
	}
	return d
}

func parseTimeframes(s string) []time.Duration {
	var out []time.Duration
	for _, part := range splitList(s) {
		out = append(out, parseDuration(part))
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
