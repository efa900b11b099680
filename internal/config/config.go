package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Unkey      UnkeyConfig
	Zitadel    ZitadelConfig
	RateLimit  RateLimitConfig
	Storage    StorageConfig
	R2         R2Config
	Minio      MinioConfig
	Filesystem FilesystemConfig
	ElevenLabs ElevenLabsConfig
	OpenAI     OpenAIConfig
	GreenAPI   GreenAPIConfig
	Pipeline   PipelineConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	// PublicBaseURL is the origin of the hosted result page, e.g. https://innovotechmarket.vercel.app
	PublicBaseURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig selects how bearer credentials on the generation endpoints are verified.
// Mode is one of "unkey", "jwt" or "none".
type AuthConfig struct {
	Mode      string
	JWTSecret string
}

type UnkeyConfig struct {
	RootKey string
	APIID   string
	BaseURL string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type RateLimitConfig struct {
	GeneratePerHour int
	ResultPerMin    int
}

// StorageConfig selects the blob store backend: "r2", "minio" or "filesystem".
type StorageConfig struct {
	Driver string
	// Timeout bounds each blob store call, uploads and result writes included.
	Timeout time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PublicBase string
}

type FilesystemConfig struct {
	Dir       string
	PublicURL string
}

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	OutputFormat string
	Timeout      int // seconds
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        int   // seconds
	MaxSourceBytes int64 // upper bound on fetched source images
}

type GreenAPIConfig struct {
	InstanceID string
	Token      string
	BaseURL    string
	ChatID     string
	Timeout    int // seconds
}

type PipelineConfig struct {
	CleanupDelay         time.Duration
	ParallelDelivery     bool
	DefaultMusicPrompt   string
	DefaultMusicLengthMs int
	ResultCacheSize      int
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("UNKEY_ROOT_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("MINIO_ACCESS_KEY")
	readSecret("MINIO_SECRET_KEY")
	readSecret("ELEVENLABS_API_KEY")
	readSecret("OPENAI_API_KEY")
	readSecret("GREEN_API_TOKEN")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.public_base_url", "PUBLIC_BASE_URL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("auth.mode", "AUTH_MODE")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("unkey.root_key", "UNKEY_ROOT_KEY")
	_ = v.BindEnv("unkey.api_id", "UNKEY_API_ID")
	_ = v.BindEnv("unkey.base_url", "UNKEY_BASE_URL")
	_ = v.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = v.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = v.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = v.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = v.BindEnv("ratelimit.result_per_min", "RATELIMIT_RESULT_PER_MIN")
	_ = v.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = v.BindEnv("storage.timeout", "STORAGE_TIMEOUT")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	_ = v.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	_ = v.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	_ = v.BindEnv("minio.bucket", "MINIO_BUCKET")
	_ = v.BindEnv("minio.use_ssl", "MINIO_USE_SSL")
	_ = v.BindEnv("minio.public_base", "MINIO_PUBLIC_BASE")
	_ = v.BindEnv("filesystem.dir", "BLOB_DIR")
	_ = v.BindEnv("filesystem.public_url", "BLOB_PUBLIC_URL")
	_ = v.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	_ = v.BindEnv("elevenlabs.base_url", "ELEVENLABS_BASE_URL")
	_ = v.BindEnv("elevenlabs.output_format", "ELEVENLABS_OUTPUT_FORMAT")
	_ = v.BindEnv("elevenlabs.timeout", "ELEVENLABS_TIMEOUT")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("openai.model", "OPENAI_IMAGE_MODEL")
	_ = v.BindEnv("openai.timeout", "OPENAI_TIMEOUT")
	_ = v.BindEnv("openai.max_source_bytes", "OPENAI_MAX_SOURCE_BYTES")
	_ = v.BindEnv("greenapi.instance_id", "GREEN_API_INSTANCE_ID")
	_ = v.BindEnv("greenapi.token", "GREEN_API_TOKEN")
	_ = v.BindEnv("greenapi.base_url", "GREEN_API_BASE_URL")
	_ = v.BindEnv("greenapi.chat_id", "GROUP_CHAT_ID")
	_ = v.BindEnv("greenapi.timeout", "GREEN_API_TIMEOUT")
	_ = v.BindEnv("pipeline.cleanup_delay", "CLEANUP_DELAY")
	_ = v.BindEnv("pipeline.parallel_delivery", "PARALLEL_DELIVERY")
	_ = v.BindEnv("pipeline.default_music_prompt", "DEFAULT_MUSIC_PROMPT")
	_ = v.BindEnv("pipeline.default_music_length_ms", "DEFAULT_MUSIC_LENGTH_MS")
	_ = v.BindEnv("pipeline.result_cache_size", "RESULT_CACHE_SIZE")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.public_base_url", "https://innovotechmarket.vercel.app")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.mode", "unkey")
	v.SetDefault("unkey.base_url", "https://api.unkey.com")
	v.SetDefault("ratelimit.generate_per_hour", 30)
	v.SetDefault("ratelimit.result_per_min", 120)

	// Storage defaults
	v.SetDefault("storage.driver", "r2")
	v.SetDefault("storage.timeout", 60*time.Second)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.bucket", "media")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.public_base", "http://localhost:9000/media")
	v.SetDefault("filesystem.dir", "data/blobs")

	// Upstream defaults
	v.SetDefault("elevenlabs.base_url", "https://api.elevenlabs.io")
	v.SetDefault("elevenlabs.output_format", "mp3_44100_128")
	v.SetDefault("elevenlabs.timeout", 180)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-image-1")
	v.SetDefault("openai.timeout", 180)
	v.SetDefault("openai.max_source_bytes", 25*1024*1024)
	v.SetDefault("greenapi.chat_id", "120363XXXXXXXXXX@g.us")
	v.SetDefault("greenapi.timeout", 30)

	// Pipeline defaults
	v.SetDefault("pipeline.cleanup_delay", 60*time.Second)
	v.SetDefault("pipeline.parallel_delivery", false)
	v.SetDefault("pipeline.default_music_prompt", "Upbeat electronic music with synth, bass, and drums")
	v.SetDefault("pipeline.default_music_length_ms", 30000)
	v.SetDefault("pipeline.result_cache_size", 512)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:          v.GetString("server.port"),
			Env:           v.GetString("server.env"),
			LogLevel:      v.GetString("server.log_level"),
			PublicBaseURL: strings.TrimRight(v.GetString("server.public_base_url"), "/"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			Mode:      strings.ToLower(v.GetString("auth.mode")),
			JWTSecret: v.GetString("auth.jwt_secret"),
		},
		Unkey: UnkeyConfig{
			RootKey: v.GetString("unkey.root_key"),
			APIID:   v.GetString("unkey.api_id"),
			BaseURL: v.GetString("unkey.base_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
			ResultPerMin:    v.GetInt("ratelimit.result_per_min"),
		},
		Storage: StorageConfig{
			Driver:  strings.ToLower(v.GetString("storage.driver")),
			Timeout: v.GetDuration("storage.timeout"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Minio: MinioConfig{
			Endpoint:   v.GetString("minio.endpoint"),
			AccessKey:  v.GetString("minio.access_key"),
			SecretKey:  v.GetString("minio.secret_key"),
			Bucket:     v.GetString("minio.bucket"),
			UseSSL:     v.GetBool("minio.use_ssl"),
			PublicBase: v.GetString("minio.public_base"),
		},
		Filesystem: FilesystemConfig{
			Dir:       v.GetString("filesystem.dir"),
			PublicURL: v.GetString("filesystem.public_url"),
		},
		ElevenLabs: ElevenLabsConfig{
			APIKey:       v.GetString("elevenlabs.api_key"),
			BaseURL:      v.GetString("elevenlabs.base_url"),
			OutputFormat: v.GetString("elevenlabs.output_format"),
			Timeout:      v.GetInt("elevenlabs.timeout"),
		},
		OpenAI: OpenAIConfig{
			APIKey:         v.GetString("openai.api_key"),
			BaseURL:        v.GetString("openai.base_url"),
			Model:          v.GetString("openai.model"),
			Timeout:        v.GetInt("openai.timeout"),
			MaxSourceBytes: v.GetInt64("openai.max_source_bytes"),
		},
		GreenAPI: GreenAPIConfig{
			InstanceID: strings.TrimSpace(v.GetString("greenapi.instance_id")),
			Token:      strings.TrimSpace(v.GetString("greenapi.token")),
			BaseURL:    v.GetString("greenapi.base_url"),
			ChatID:     strings.TrimSpace(v.GetString("greenapi.chat_id")),
			Timeout:    v.GetInt("greenapi.timeout"),
		},
		Pipeline: PipelineConfig{
			CleanupDelay:         v.GetDuration("pipeline.cleanup_delay"),
			ParallelDelivery:     v.GetBool("pipeline.parallel_delivery"),
			DefaultMusicPrompt:   v.GetString("pipeline.default_music_prompt"),
			DefaultMusicLengthMs: v.GetInt("pipeline.default_music_length_ms"),
			ResultCacheSize:      v.GetInt("pipeline.result_cache_size"),
		},
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}
