package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	TorrentDataDir     string
	RestrictDataDir    bool
	MongoURI           string
	MongoDatabase      string
	MongoCollection    string
	RedisURL           string // empty disables the snapshot cache
	SnapshotTTL        time.Duration
	PreloadBytes       int64
	PreloadPoll        time.Duration
	PreloadTimeout     time.Duration
	AttachTimeout      time.Duration
	RegistryWait       time.Duration
	ProgressInterval   time.Duration
	StreamReadahead    int64
	MinDiskSpaceBytes  int64 // 0 = disk guard disabled
	RestoreConcurrency int
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
	OTLPEndpoint       string
	TraceSampleRate    float64
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TorrentDataDir:     getEnv("TORRENT_DATA_DIR", "data"),
		RestrictDataDir:    getEnvBool("TORRENT_RESTRICT_DATA_DIR", true),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getEnv("MONGO_DB", "streamgate"),
		MongoCollection:    getEnv("MONGO_COLLECTION", "restore_records"),
		RedisURL:           getEnv("REDIS_URL", ""),
		SnapshotTTL:        getEnvDuration("SNAPSHOT_TTL", 24*time.Hour),
		PreloadBytes:       getEnvInt64("PRELOAD_BYTES", 5<<20),
		PreloadPoll:        getEnvDuration("PRELOAD_POLL_INTERVAL", 500*time.Millisecond),
		PreloadTimeout:     getEnvDuration("PRELOAD_TIMEOUT", 2*time.Minute),
		AttachTimeout:      getEnvDuration("ATTACH_TIMEOUT", time.Minute),
		RegistryWait:       getEnvDuration("REGISTRY_WAIT", 2*time.Second),
		ProgressInterval:   getEnvDuration("PROGRESS_INTERVAL", time.Second),
		StreamReadahead:    getEnvInt64("STREAM_READAHEAD_BYTES", 16<<20),
		MinDiskSpaceBytes:  getEnvInt64("MIN_DISK_SPACE_BYTES", 0),
		RestoreConcurrency: int(getEnvInt64("RESTORE_CONCURRENCY", 4)),
		RateLimitRPS:       getEnvFloat("HTTP_RATE_LIMIT_RPS", 100),
		RateLimitBurst:     int(getEnvInt64("HTTP_RATE_LIMIT_BURST", 200)),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TraceSampleRate:    getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("90s") or whole seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
