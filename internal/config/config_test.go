package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Download.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Download.MaxConcurrent)
	}
	if got := cfg.RequestInterval(); got != 2*time.Second {
		t.Errorf("RequestInterval() = %v, want 2s", got)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Store.TTL != time.Hour {
		t.Errorf("Store.TTL = %v, want 1h", cfg.Store.TTL)
	}
	if cfg.Extractor.Binary != "yt-dlp" {
		t.Errorf("Extractor.Binary = %q, want yt-dlp", cfg.Extractor.Binary)
	}
	if len(cfg.ProxyList()) != 0 {
		t.Errorf("ProxyList() = %v, want empty", cfg.ProxyList())
	}
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("PROXY_LIST", "http://a:1, http://b:2,, ")
	t.Setenv("MIN_REQUEST_INTERVAL", "500")
	t.Setenv("MAX_CONCURRENT_DOWNLOADS", "7")
	t.Setenv("YTDLP_COOKIES", "/tmp/cookies.txt")
	t.Setenv("YOUTUBE_PO_TOKEN", "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	proxies := cfg.ProxyList()
	if len(proxies) != 2 || proxies[0] != "http://a:1" || proxies[1] != "http://b:2" {
		t.Errorf("ProxyList() = %v", proxies)
	}
	if got := cfg.RequestInterval(); got != 500*time.Millisecond {
		t.Errorf("RequestInterval() = %v, want 500ms", got)
	}
	if cfg.Download.MaxConcurrent != 7 {
		t.Errorf("MaxConcurrent = %d, want 7", cfg.Download.MaxConcurrent)
	}
	if cfg.Extractor.CookiesFile != "/tmp/cookies.txt" {
		t.Errorf("CookiesFile = %q", cfg.Extractor.CookiesFile)
	}
	if cfg.Extractor.POToken != "tok" {
		t.Errorf("POToken = %q", cfg.Extractor.POToken)
	}
}

func TestLoadPrefixedEnv(t *testing.T) {
	t.Setenv("VIDEOGRAB_STORE_DRIVER", "sqlite")
	t.Setenv("VIDEOGRAB_STORE_TTL", "15m")
	t.Setenv("VIDEOGRAB_DOWNLOAD_MAXCONCURRENT", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Store.TTL != 15*time.Minute {
		t.Errorf("Store.TTL = %v, want 15m", cfg.Store.TTL)
	}
	if cfg.Download.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", cfg.Download.MaxConcurrent)
	}
}

func TestLoadRejectsInvalidConcurrency(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_DOWNLOADS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for zero concurrency")
	}
}
