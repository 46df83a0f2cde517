package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Every value comes from the environment
// with sensible defaults so the service starts in a development setup without
// any configuration.
type Config struct {
	ListenAddr string

	Gallery GalleryConfig
	Face    FaceConfig
	Oracle  OracleConfig

	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string

	CaptureCommand string

	RateLimit RateLimitConfig
}

type GalleryConfig struct {
	Dir string // directory holding one reference image per enrolled identity
}

type FaceConfig struct {
	DistanceThreshold float64 // maximum distance at which two faces count as the same identity
	Model             string
	DetectorBackend   string
}

type OracleConfig struct {
	BaseURL string // DeepFace-compatible HTTP service
}

type RateLimitConfig struct {
	VerifyPerMinute   int
	RegisterPerMinute int
	UploadPerMinute   int
}

// Load reads configuration from the environment. A local .env file is applied
// first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		Gallery: GalleryConfig{
			Dir: getEnv("GALLERY_DIR", "images/registered"),
		},
		Face: FaceConfig{
			DistanceThreshold: envFloat("FACE_DISTANCE_THRESHOLD", 0.4),
			Model:             getEnv("FACE_MODEL", "Facenet"),
			DetectorBackend:   getEnv("DETECTOR_BACKEND", "opencv"),
		},
		Oracle: OracleConfig{
			BaseURL: getEnv("FACE_ORACLE_URL", "http://face-oracle:5000"),
		},
		DatabaseDSN: getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=facegate port=5432 sslmode=disable"),
		RedisAddr:   getEnv("REDIS_ADDR", "redis:6379"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),
		CaptureCommand: getEnv("CAPTURE_COMMAND",
			"ffmpeg -y -f v4l2 -i /dev/video0 -frames:v 1"),
		RateLimit: RateLimitConfig{
			VerifyPerMinute:   envInt("RATE_LIMIT_VERIFY", 5),
			RegisterPerMinute: envInt("RATE_LIMIT_REGISTER", 3),
			UploadPerMinute:   envInt("RATE_LIMIT_UPLOAD", 10),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}
