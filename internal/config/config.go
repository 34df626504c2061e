package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration

	// CORS
	CORSAllowedOrigins []string

	// Queue
	MatchmakingInterval   time.Duration
	InitialTolerance      int           // starting search range, +/- rating points
	ToleranceGrowthPerSec int           // rating points added per waited second
	MaxTolerance          int           // expansion cap
	TicketTTL             time.Duration // ticket expiry while unmatched
	PriorityBoost         time.Duration // wait-time credit after a failed ready check or lock

	// Ready check
	ReadyCheckTimeout time.Duration

	// Match lock
	MaxLockRetries   int
	LockRetryBackoff time.Duration
	ReservationTTL   time.Duration
	SessionServers   []string
	VoiceLobbies     []string

	// Rating
	DefaultRating       int
	PlacementGames      int
	PlacementKFactor    float64
	EstablishedKFactor  float64
	MinDeltaMagnitude   int
	MaxDeltaMagnitude   int
	SmurfDeltaThreshold int // provisional delta above which the smurf flag trips
	TierBaseRating      int // rating floor of the first division above unranked
	TierDivisionStep    int // rating width of one division

	// Notifications
	WebhookSinkURL      string
	DeliveryMaxAttempts int
	DeliveryBackoff     time.Duration
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiration:      getDuration("JWT_EXPIRATION", 24*time.Hour),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		MatchmakingInterval:   getDuration("MATCHMAKING_INTERVAL", 5*time.Second),
		InitialTolerance:      getInt("MM_INITIAL_TOLERANCE", 50),
		ToleranceGrowthPerSec: getInt("MM_TOLERANCE_GROWTH_PER_SEC", 5),
		MaxTolerance:          getInt("MM_MAX_TOLERANCE", 500),
		TicketTTL:             getDuration("MM_TICKET_TTL", 10*time.Minute),
		PriorityBoost:         getDuration("MM_PRIORITY_BOOST", 30*time.Second),

		ReadyCheckTimeout: getDuration("READY_CHECK_TIMEOUT", 30*time.Second),

		MaxLockRetries:   getInt("LOCK_MAX_RETRIES", 3),
		LockRetryBackoff: getDuration("LOCK_RETRY_BACKOFF", 500*time.Millisecond),
		ReservationTTL:   getDuration("RESERVATION_TTL", 2*time.Hour),
		SessionServers:   getList("SESSION_SERVERS", []string{"gs-1", "gs-2", "gs-3", "gs-4"}),
		VoiceLobbies:     getList("VOICE_LOBBIES", []string{"vl-1", "vl-2", "vl-3", "vl-4"}),

		DefaultRating:       getInt("RATING_DEFAULT", 1500),
		PlacementGames:      getInt("RATING_PLACEMENT_GAMES", 5),
		PlacementKFactor:    getFloat("RATING_PLACEMENT_K", 40),
		EstablishedKFactor:  getFloat("RATING_ESTABLISHED_K", 24),
		MinDeltaMagnitude:   getInt("RATING_MIN_DELTA", 1),
		MaxDeltaMagnitude:   getInt("RATING_MAX_DELTA", 50),
		SmurfDeltaThreshold: getInt("RATING_SMURF_THRESHOLD", 35),
		TierBaseRating:      getInt("RATING_TIER_BASE", 1000),
		TierDivisionStep:    getInt("RATING_DIVISION_STEP", 100),

		WebhookSinkURL:      getEnv("WEBHOOK_SINK_URL", ""),
		DeliveryMaxAttempts: getInt("DELIVERY_MAX_ATTEMPTS", 5),
		DeliveryBackoff:     getDuration("DELIVERY_BACKOFF", 2*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
