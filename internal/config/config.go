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
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string

	// Supabase Auth (GoTrue) is the identity provider.
	SupabaseURL            string
	SupabaseAnonKey        string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string
	SupabaseAutoConfirm    bool

	StorageEndpoint        string
	StorageRegion          string
	StorageAccessKeyID     string
	StorageSecretAccessKey string
	StorageBucket          string
	StoragePublicURL       string
	StorageMaxAttempts     int

	IdentityTimeout time.Duration
	StorageTimeout  time.Duration

	RedisURL        string
	ProfileCacheTTL time.Duration

	// Orphan reaper; runs only when Redis is configured.
	ReaperWorkers     int
	ReaperMaxAttempts int
	ReaperRetryDelay  time.Duration

	LogLevel  string
	LogPretty bool

	CORSAllowedOrigins []string
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	sslMode := os.Getenv("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "require"
	}

	storageBucket := os.Getenv("STORAGE_BUCKET")
	if storageBucket == "" {
		storageBucket = "profile-pictures"
	}

	storageRegion := os.Getenv("STORAGE_REGION")
	if storageRegion == "" {
		storageRegion = "auto"
	}

	storageMaxAttempts := intEnv("STORAGE_MAX_ATTEMPTS", 3)

	origins := []string{"*"}
	if raw := os.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		origins = origins[:0]
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	reaperWorkers := intEnv("REAPER_WORKERS", 1)
	reaperMaxAttempts := intEnv("REAPER_MAX_ATTEMPTS", 5)

	logPretty, _ := strconv.ParseBool(os.Getenv("LOG_PRETTY"))
	autoConfirm, _ := strconv.ParseBool(os.Getenv("SUPABASE_AUTO_CONFIRM"))

	return &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  sslMode,

		ServerPort: serverPort,

		SupabaseURL:            strings.TrimSuffix(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseAnonKey:        os.Getenv("SUPABASE_ANON_KEY"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseJWTSecret:      os.Getenv("SUPABASE_JWT_SECRET"),
		SupabaseAutoConfirm:    autoConfirm,

		StorageEndpoint:        os.Getenv("STORAGE_ENDPOINT"),
		StorageRegion:          storageRegion,
		StorageAccessKeyID:     os.Getenv("STORAGE_ACCESS_KEY_ID"),
		StorageSecretAccessKey: os.Getenv("STORAGE_SECRET_ACCESS_KEY"),
		StorageBucket:          storageBucket,
		StoragePublicURL:       strings.TrimSuffix(os.Getenv("STORAGE_PUBLIC_URL"), "/"),
		StorageMaxAttempts:     storageMaxAttempts,

		IdentityTimeout: durationEnv("IDENTITY_TIMEOUT", 10*time.Second),
		StorageTimeout:  durationEnv("STORAGE_TIMEOUT", 30*time.Second),

		RedisURL:        os.Getenv("REDIS_URL"),
		ProfileCacheTTL: durationEnv("PROFILE_CACHE_TTL", 10*time.Minute),

		ReaperWorkers:     reaperWorkers,
		ReaperMaxAttempts: reaperMaxAttempts,
		ReaperRetryDelay:  durationEnv("REAPER_RETRY_DELAY", 30*time.Second),

		LogLevel:  os.Getenv("LOG_LEVEL"),
		LogPretty: logPretty,

		CORSAllowedOrigins: origins,
	}, nil
}

// durationEnv accepts Go durations ("15s") or a plain number of seconds.
func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

// intEnv returns the positive integer in key, or def.
func intEnv(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
