package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Log struct {
		Level string
	}
	Download struct {
		DataDir            string
		MaxConcurrent      int
		MinRequestInterval int // milliseconds
		MaxFileAge         time.Duration
		CleanupInterval    time.Duration
	}
	Extractor struct {
		Binary         string
		Proxies        string
		CookiesFile    string
		POToken        string
		POTProviderURL string
	}
	Store struct {
		Driver        string
		DSN           string
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		TTL           time.Duration
		SweepInterval time.Duration
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Links struct {
		Secret string
		TTL    time.Duration
	}
}

// legacyEnv maps config keys to the plain environment names operators
// already use for the extractor deployment.
var legacyEnv = map[string][]string{
	"download.maxconcurrent":      {"MAX_CONCURRENT_DOWNLOADS"},
	"download.minrequestinterval": {"MIN_REQUEST_INTERVAL"},
	"extractor.proxies":           {"PROXY_LIST"},
	"extractor.cookiesfile":       {"YTDLP_COOKIES", "COOKIES_FILE"},
	"extractor.potoken":           {"YOUTUBE_PO_TOKEN"},
	"extractor.potproviderurl":    {"YOUTUBE_POT_PROVIDER_URL"},
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	_ = godotenv.Load() // optional .env, never overrides the real environment

	v := viper.New()
	v.SetEnvPrefix("VIDEOGRAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		args := append([]string{key, "VIDEOGRAB_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return Config{}, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("download.maxconcurrent", 3)
	v.SetDefault("download.minrequestinterval", 2000)
	v.SetDefault("download.maxfileage", 24*time.Hour)
	v.SetDefault("download.cleanupinterval", 30*time.Minute)
	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.proxies", "")
	v.SetDefault("extractor.cookiesfile", "")
	v.SetDefault("extractor.potoken", "")
	v.SetDefault("extractor.potproviderurl", "")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.redisaddr", "127.0.0.1:6379")
	v.SetDefault("store.redispassword", "")
	v.SetDefault("store.redisdb", 0)
	v.SetDefault("store.ttl", time.Hour)
	v.SetDefault("store.sweepinterval", 10*time.Minute)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "videograb")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("links.secret", "")
	v.SetDefault("links.ttl", time.Hour)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Download.MaxConcurrent < 1 {
		return Config{}, fmt.Errorf("download.maxconcurrent must be at least 1, got %d", cfg.Download.MaxConcurrent)
	}
	if cfg.Download.MinRequestInterval < 0 {
		return Config{}, fmt.Errorf("download.minrequestinterval must not be negative, got %d", cfg.Download.MinRequestInterval)
	}

	return cfg, nil
}

// ProxyList splits the comma separated proxy setting, dropping blanks.
func (c Config) ProxyList() []string {
	var proxies []string
	for _, p := range strings.Split(c.Extractor.Proxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	return proxies
}

// RequestInterval is the minimum spacing between extractor launches.
func (c Config) RequestInterval() time.Duration {
	return time.Duration(c.Download.MinRequestInterval) * time.Millisecond
}
