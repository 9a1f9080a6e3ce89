package sys

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	Silent       bool

	DataDir           string
	AutoplaylistFile  string
	AutoplaylistPrune bool
	YtdlpPath         string
	YoutubeProxy      string

	SpotifyClientID     string
	SpotifyClientSecret string

	MaxRetries         int
	ResolveBatchSize   int
	ResolveConcurrency int
	ResolveTimeout     time.Duration
	ResolveRate        float64
	CacheTTL           time.Duration
}

var GlobalConfig *Config

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, GetProjectName()+".db")
	}

	autoplaylist := os.Getenv("AUTOPLAYLIST_FILE")
	if autoplaylist == "" {
		autoplaylist = filepath.Join("config", "autoplaylist.txt")
	}

	ytdlpPath := os.Getenv("YTDLP_PATH")
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))
	prune, _ := strconv.ParseBool(os.Getenv("AUTOPLAYLIST_PRUNE"))

	cfg := &Config{
		Token:               os.Getenv("DISCORD_TOKEN"),
		GuildID:             os.Getenv("GUILD_ID"),
		DatabasePath:        dbPath,
		Silent:              silent,
		DataDir:             dataDir,
		AutoplaylistFile:    autoplaylist,
		AutoplaylistPrune:   prune,
		YtdlpPath:           ytdlpPath,
		YoutubeProxy:        os.Getenv("YOUTUBE_PROXY"),
		SpotifyClientID:     strings.TrimSpace(os.Getenv("SPOTIFY_CLIENT_ID")),
		SpotifyClientSecret: strings.TrimSpace(os.Getenv("SPOTIFY_CLIENT_SECRET")),
	}

	var err error
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.ResolveBatchSize, err = envInt("RESOLVE_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.ResolveConcurrency, err = envInt("RESOLVE_CONCURRENCY", 10); err != nil {
		return nil, err
	}
	if cfg.ResolveTimeout, err = envDuration("RESOLVE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", 0); err != nil {
		return nil, err
	}
	cfg.ResolveRate = 8
	if v := os.Getenv("RESOLVE_RATE"); v != "" {
		if cfg.ResolveRate, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf(MsgConfigInvalidNumber, "RESOLVE_RATE", v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

// Validate ensures the configuration is valid and meets requirements.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}
	if _, err := lookPath(c.YtdlpPath); err != nil {
		return fmt.Errorf(MsgConfigMissingYtdlp, c.YtdlpPath)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	if c.ResolveBatchSize < 1 || c.ResolveConcurrency < 1 {
		return fmt.Errorf("RESOLVE_BATCH_SIZE and RESOLVE_CONCURRENCY must be positive")
	}
	return nil
}

// HasSpotifyCredentials reports whether the client credentials flow can be used.
func (c *Config) HasSpotifyCredentials() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf(MsgConfigInvalidNumber, key, v)
	}
	return n, nil
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf(MsgConfigInvalidNumber, key, v)
	}
	return d, nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") || strings.HasSuffix(projectName, ".test") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
