package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig() failed: %v", err)
	}

	home, _ := os.UserHomeDir()
	expectedHome := filepath.Join(home, ".pm")

	if cfg.HomeDir != expectedHome {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, expectedHome)
	}
	if cfg.StoreDir != filepath.Join(expectedHome, "store") {
		t.Errorf("StoreDir = %q, want %q", cfg.StoreDir, filepath.Join(expectedHome, "store"))
	}
	if cfg.StatesDir != filepath.Join(expectedHome, "states") {
		t.Errorf("StatesDir = %q, want %q", cfg.StatesDir, filepath.Join(expectedHome, "states"))
	}
	if cfg.LiveLink != filepath.Join(expectedHome, "live") {
		t.Errorf("LiveLink = %q, want %q", cfg.LiveLink, filepath.Join(expectedHome, "live"))
	}
	if cfg.StateDBPath != filepath.Join(expectedHome, "state.db") {
		t.Errorf("StateDBPath = %q, want %q", cfg.StateDBPath, filepath.Join(expectedHome, "state.db"))
	}
	if cfg.RecipesDir != filepath.Join(expectedHome, "recipes") {
		t.Errorf("RecipesDir = %q, want %q", cfg.RecipesDir, filepath.Join(expectedHome, "recipes"))
	}
	if cfg.ConfigFile != filepath.Join(expectedHome, "config.toml") {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, filepath.Join(expectedHome, "config.toml"))
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := NewConfig(filepath.Join(tmpDir, "pm"))

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() failed: %v", err)
	}

	dirs := []string{cfg.HomeDir, cfg.StoreDir, cfg.StatesDir, cfg.RecipesDir, cfg.IndexCacheDir, cfg.RecipeCacheDir, cfg.DownloadCacheDir}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("Directory %q does not exist: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%q is not a directory", dir)
		}
	}
}

func TestStatePath(t *testing.T) {
	cfg := NewConfig("/home/user/.pm")

	got := cfg.StatePath("01981f3a-6c2e-7000-8000-000000000001")
	want := "/home/user/.pm/states/01981f3a-6c2e-7000-8000-000000000001"
	if got != want {
		t.Errorf("StatePath() = %q, want %q", got, want)
	}
}

func TestDefaultConfig_WithPMHome(t *testing.T) {
	original := os.Getenv(EnvPMHome)
	defer os.Setenv(EnvPMHome, original)

	customHome := "/custom/pm/path"
	os.Setenv(EnvPMHome, customHome)

	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig() failed: %v", err)
	}

	if cfg.HomeDir != customHome {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, customHome)
	}
	if cfg.StoreDir != filepath.Join(customHome, "store") {
		t.Errorf("StoreDir = %q, want %q", cfg.StoreDir, filepath.Join(customHome, "store"))
	}
	if cfg.StatesDir != filepath.Join(customHome, "states") {
		t.Errorf("StatesDir = %q, want %q", cfg.StatesDir, filepath.Join(customHome, "states"))
	}
}

func TestDefaultConfig_EmptyPMHome(t *testing.T) {
	original := os.Getenv(EnvPMHome)
	defer os.Setenv(EnvPMHome, original)

	_ = os.Unsetenv(EnvPMHome)

	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig() failed: %v", err)
	}

	home, _ := os.UserHomeDir()
	expectedHome := filepath.Join(home, ".pm")

	if cfg.HomeDir != expectedHome {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, expectedHome)
	}
}

func TestGetAPITimeout_Default(t *testing.T) {
	original := os.Getenv(EnvAPITimeout)
	defer os.Setenv(EnvAPITimeout, original)

	_ = os.Unsetenv(EnvAPITimeout)

	timeout := GetAPITimeout()
	if timeout != DefaultAPITimeout {
		t.Errorf("GetAPITimeout() = %v, want %v", timeout, DefaultAPITimeout)
	}
}

func TestGetAPITimeout_CustomValue(t *testing.T) {
	original := os.Getenv(EnvAPITimeout)
	defer os.Setenv(EnvAPITimeout, original)

	os.Setenv(EnvAPITimeout, "45s")

	timeout := GetAPITimeout()
	expected := 45 * time.Second
	if timeout != expected {
		t.Errorf("GetAPITimeout() = %v, want %v", timeout, expected)
	}
}

func TestGetAPITimeout_InvalidValue(t *testing.T) {
	original := os.Getenv(EnvAPITimeout)
	defer os.Setenv(EnvAPITimeout, original)

	os.Setenv(EnvAPITimeout, "invalid")

	timeout := GetAPITimeout()
	if timeout != DefaultAPITimeout {
		t.Errorf("GetAPITimeout() = %v, want %v (default)", timeout, DefaultAPITimeout)
	}
}

func TestGetAPITimeout_TooLow(t *testing.T) {
	original := os.Getenv(EnvAPITimeout)
	defer os.Setenv(EnvAPITimeout, original)

	os.Setenv(EnvAPITimeout, "100ms")

	timeout := GetAPITimeout()
	if timeout != 1*time.Second {
		t.Errorf("GetAPITimeout() = %v, want 1s (minimum)", timeout)
	}
}

func TestGetAPITimeout_TooHigh(t *testing.T) {
	original := os.Getenv(EnvAPITimeout)
	defer os.Setenv(EnvAPITimeout, original)

	os.Setenv(EnvAPITimeout, "1h")

	timeout := GetAPITimeout()
	if timeout != 10*time.Minute {
		t.Errorf("GetAPITimeout() = %v, want 10m (maximum)", timeout)
	}
}

func TestGetIndexCacheTTL_Default(t *testing.T) {
	original := os.Getenv(EnvIndexCacheTTL)
	defer os.Setenv(EnvIndexCacheTTL, original)

	_ = os.Unsetenv(EnvIndexCacheTTL)

	ttl := GetIndexCacheTTL()
	if ttl != DefaultIndexCacheTTL {
		t.Errorf("GetIndexCacheTTL() = %v, want %v", ttl, DefaultIndexCacheTTL)
	}
}

func TestGetIndexCacheTTL_CustomValue(t *testing.T) {
	original := os.Getenv(EnvIndexCacheTTL)
	defer os.Setenv(EnvIndexCacheTTL, original)

	os.Setenv(EnvIndexCacheTTL, "30m")

	ttl := GetIndexCacheTTL()
	expected := 30 * time.Minute
	if ttl != expected {
		t.Errorf("GetIndexCacheTTL() = %v, want %v", ttl, expected)
	}
}

func TestGetIndexCacheTTL_TooLow(t *testing.T) {
	original := os.Getenv(EnvIndexCacheTTL)
	defer os.Setenv(EnvIndexCacheTTL, original)

	os.Setenv(EnvIndexCacheTTL, "1m")

	ttl := GetIndexCacheTTL()
	if ttl != 5*time.Minute {
		t.Errorf("GetIndexCacheTTL() = %v, want 5m (minimum)", ttl)
	}
}

func TestGetIndexCacheTTL_TooHigh(t *testing.T) {
	original := os.Getenv(EnvIndexCacheTTL)
	defer os.Setenv(EnvIndexCacheTTL, original)

	os.Setenv(EnvIndexCacheTTL, "200h")

	ttl := GetIndexCacheTTL()
	if ttl != 7*24*time.Hour {
		t.Errorf("GetIndexCacheTTL() = %v, want 168h (maximum)", ttl)
	}
}

func TestGetRecipeCacheTTL_Default(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheTTL)
	defer os.Setenv(EnvRecipeCacheTTL, original)

	_ = os.Unsetenv(EnvRecipeCacheTTL)

	ttl := GetRecipeCacheTTL()
	if ttl != DefaultRecipeCacheTTL {
		t.Errorf("GetRecipeCacheTTL() = %v, want %v", ttl, DefaultRecipeCacheTTL)
	}
}

func TestGetRecipeCacheTTL_CustomValue(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheTTL)
	defer os.Setenv(EnvRecipeCacheTTL, original)

	os.Setenv(EnvRecipeCacheTTL, "12h")

	ttl := GetRecipeCacheTTL()
	expected := 12 * time.Hour
	if ttl != expected {
		t.Errorf("GetRecipeCacheTTL() = %v, want %v", ttl, expected)
	}
}

func TestGetRecipeCacheTTL_InvalidValue(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheTTL)
	defer os.Setenv(EnvRecipeCacheTTL, original)

	os.Setenv(EnvRecipeCacheTTL, "invalid")

	ttl := GetRecipeCacheTTL()
	if ttl != DefaultRecipeCacheTTL {
		t.Errorf("GetRecipeCacheTTL() = %v, want %v (default)", ttl, DefaultRecipeCacheTTL)
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"52428800", 52428800, false},
		{"100B", 100, false},
		{"100b", 100, false},
		{"1K", 1024, false},
		{"1KB", 1024, false},
		{"1k", 1024, false},
		{"1kb", 1024, false},
		{"50K", 51200, false},
		{"1M", 1024 * 1024, false},
		{"1MB", 1024 * 1024, false},
		{"1m", 1024 * 1024, false},
		{"1mb", 1024 * 1024, false},
		{"50M", 50 * 1024 * 1024, false},
		{"50MB", 50 * 1024 * 1024, false},
		{"1G", 1024 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"1g", 1024 * 1024 * 1024, false},
		{"2GB", 2 * 1024 * 1024 * 1024, false},
		{"1.5M", int64(1.5 * 1024 * 1024), false},
		{"0.5G", int64(0.5 * 1024 * 1024 * 1024), false},
		{"", 0, true},
		{"abc", 0, true},
		{"50TB", 0, true},
		{"MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseByteSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseByteSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestGetRecipeCacheSizeLimit_Default(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheSizeLimit)
	defer os.Setenv(EnvRecipeCacheSizeLimit, original)

	_ = os.Unsetenv(EnvRecipeCacheSizeLimit)

	limit := GetRecipeCacheSizeLimit()
	if limit != DefaultRecipeCacheSizeLimit {
		t.Errorf("GetRecipeCacheSizeLimit() = %d, want %d", limit, DefaultRecipeCacheSizeLimit)
	}
}

func TestGetRecipeCacheSizeLimit_HumanReadable(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheSizeLimit)
	defer os.Setenv(EnvRecipeCacheSizeLimit, original)

	tests := []struct {
		envValue string
		expected int64
	}{
		{"100MB", 100 * 1024 * 1024},
		{"100M", 100 * 1024 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"1G", 1024 * 1024 * 1024},
		{"5M", 5 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			os.Setenv(EnvRecipeCacheSizeLimit, tt.envValue)
			limit := GetRecipeCacheSizeLimit()
			if limit != tt.expected {
				t.Errorf("GetRecipeCacheSizeLimit() with %q = %d, want %d", tt.envValue, limit, tt.expected)
			}
		})
	}
}

func TestGetRecipeCacheSizeLimit_TooLow(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheSizeLimit)
	defer os.Setenv(EnvRecipeCacheSizeLimit, original)

	os.Setenv(EnvRecipeCacheSizeLimit, "100K")

	limit := GetRecipeCacheSizeLimit()
	expected := int64(1 * 1024 * 1024)
	if limit != expected {
		t.Errorf("GetRecipeCacheSizeLimit() = %d, want %d (minimum)", limit, expected)
	}
}

func TestGetRecipeCacheSizeLimit_TooHigh(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheSizeLimit)
	defer os.Setenv(EnvRecipeCacheSizeLimit, original)

	os.Setenv(EnvRecipeCacheSizeLimit, "20GB")

	limit := GetRecipeCacheSizeLimit()
	expected := int64(10 * 1024 * 1024 * 1024)
	if limit != expected {
		t.Errorf("GetRecipeCacheSizeLimit() = %d, want %d (maximum)", limit, expected)
	}
}

func TestGetDownloadCacheSizeLimit_Default(t *testing.T) {
	original := os.Getenv(EnvDownloadCacheSizeLimit)
	defer os.Setenv(EnvDownloadCacheSizeLimit, original)

	_ = os.Unsetenv(EnvDownloadCacheSizeLimit)

	limit := GetDownloadCacheSizeLimit()
	if limit != DefaultDownloadCacheSizeLimit {
		t.Errorf("GetDownloadCacheSizeLimit() = %d, want %d", limit, DefaultDownloadCacheSizeLimit)
	}
}

func TestGetDownloadCacheSizeLimit_CustomValue(t *testing.T) {
	original := os.Getenv(EnvDownloadCacheSizeLimit)
	defer os.Setenv(EnvDownloadCacheSizeLimit, original)

	os.Setenv(EnvDownloadCacheSizeLimit, "5GB")

	limit := GetDownloadCacheSizeLimit()
	expected := int64(5 * 1024 * 1024 * 1024)
	if limit != expected {
		t.Errorf("GetDownloadCacheSizeLimit() = %d, want %d", limit, expected)
	}
}

func TestGetRecipeCacheMaxStale_Default(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheMaxStale)
	defer os.Setenv(EnvRecipeCacheMaxStale, original)

	_ = os.Unsetenv(EnvRecipeCacheMaxStale)

	maxStale := GetRecipeCacheMaxStale()
	if maxStale != DefaultRecipeCacheMaxStale {
		t.Errorf("GetRecipeCacheMaxStale() = %v, want %v", maxStale, DefaultRecipeCacheMaxStale)
	}
}

func TestGetRecipeCacheMaxStale_CustomValue(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheMaxStale)
	defer os.Setenv(EnvRecipeCacheMaxStale, original)

	tests := []struct {
		envValue string
		expected time.Duration
	}{
		{"24h", 24 * time.Hour},
		{"48h", 48 * time.Hour},
		{"168h", 168 * time.Hour},
		{"3d", 3 * 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"14D", 14 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			os.Setenv(EnvRecipeCacheMaxStale, tt.envValue)
			maxStale := GetRecipeCacheMaxStale()
			if maxStale != tt.expected {
				t.Errorf("GetRecipeCacheMaxStale() with %q = %v, want %v", tt.envValue, maxStale, tt.expected)
			}
		})
	}
}

func TestGetRecipeCacheMaxStale_Zero(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheMaxStale)
	defer os.Setenv(EnvRecipeCacheMaxStale, original)

	os.Setenv(EnvRecipeCacheMaxStale, "0")

	maxStale := GetRecipeCacheMaxStale()
	if maxStale != 0 {
		t.Errorf("GetRecipeCacheMaxStale() = %v, want 0", maxStale)
	}
}

func TestGetRecipeCacheStaleFallback_Default(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheStaleFallback)
	defer os.Setenv(EnvRecipeCacheStaleFallback, original)

	_ = os.Unsetenv(EnvRecipeCacheStaleFallback)

	fallback := GetRecipeCacheStaleFallback()
	if !fallback {
		t.Errorf("GetRecipeCacheStaleFallback() = false, want true (default)")
	}
}

func TestGetRecipeCacheStaleFallback_Enabled(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheStaleFallback)
	defer os.Setenv(EnvRecipeCacheStaleFallback, original)

	for _, value := range []string{"true", "TRUE", "True", "1", "yes", "YES", "on", "ON"} {
		t.Run(value, func(t *testing.T) {
			os.Setenv(EnvRecipeCacheStaleFallback, value)
			fallback := GetRecipeCacheStaleFallback()
			if !fallback {
				t.Errorf("GetRecipeCacheStaleFallback() with %q = false, want true", value)
			}
		})
	}
}

func TestGetRecipeCacheStaleFallback_Disabled(t *testing.T) {
	original := os.Getenv(EnvRecipeCacheStaleFallback)
	defer os.Setenv(EnvRecipeCacheStaleFallback, original)

	for _, value := range []string{"false", "FALSE", "False", "0", "no", "NO", "off", "OFF"} {
		t.Run(value, func(t *testing.T) {
			os.Setenv(EnvRecipeCacheStaleFallback, value)
			fallback := GetRecipeCacheStaleFallback()
			if fallback {
				t.Errorf("GetRecipeCacheStaleFallback() with %q = true, want false", value)
			}
		})
	}
}
