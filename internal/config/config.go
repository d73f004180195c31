package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	KafkaBrokers          []string
	KafkaTopic            string
	KafkaGroupID          string
	MayaposBaseURL        string
	MayaposAPIKey         string
	StripelineBaseURL     string
	StripelineAPIKey      string
	AuthSecret            string
	AccessTokenTTLMinutes int
	StationID             string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	var brokers []string
	if raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		KafkaBrokers:          brokers,
		KafkaTopic:            getEnv("KAFKA_TOPIC", "purchase-created"),
		KafkaGroupID:          getEnv("KAFKA_CONSUMER_GROUP", "reconciler"),
		MayaposBaseURL:        getEnv("MAYAPOS_BASE_URL", "https://api.mayapos.example"),
		MayaposAPIKey:         strings.TrimSpace(os.Getenv("MAYAPOS_API_KEY")),
		StripelineBaseURL:     getEnv("STRIPELINE_BASE_URL", "https://api.stripeline.example"),
		StripelineAPIKey:      strings.TrimSpace(os.Getenv("STRIPELINE_API_KEY")),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		StationID:             getEnv("DEFAULT_STATION_ID", "station-1"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
