package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store      StoreConfig
	Proxy      ProxyConfig
	Scheduler  SchedulerConfig
	Scraper    ScraperConfig
	Liveness   LivenessConfig
	Extraction ExtractionConfig
	S3         S3Config
	API        APIConfig
	DBPath     string
	LogLevel   string
	LogFile    string
	SitesDir   string
	Sites      map[string]*SiteConfig
}

// StoreConfig selects where listings live. Runs, logs and commands always
// stay in the SQLite file at DBPath.
type StoreConfig struct {
	Driver      string // sqlite or postgres
	DatabaseURL string
}

type ProxyConfig struct {
	URL string
}

type SchedulerConfig struct {
	Interval    time.Duration
	Cron        string
	CommandPoll time.Duration
}

type ScraperConfig struct {
	DelayMS   int
	Workers   int
	MaxOffers int
	Timeout   time.Duration
	UserAgent string
}

type LivenessConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	DelayMS    int
}

type ExtractionConfig struct {
	AllowDefaultBuildingType bool
	DefaultBuildingType      string
	NewConstructionYears     int
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

type APIConfig struct {
	Addr string
}

type SiteConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Handler     string   `yaml:"handler"`
	RateLimitMS int      `yaml:"rate_limit_ms"`
	SearchURLs  []string `yaml:"search_urls"`
	MaxOffers   int      `yaml:"max_offers"`
	OfferPath   string   `yaml:"offer_pattern"`
	Headless    *bool    `yaml:"headless"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Store: StoreConfig{
			Driver:      strings.ToLower(getEnv("STORE", "sqlite")),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron:        os.Getenv("SCRAPE_CRON"),
			Interval:    getEnvDuration("SCRAPE_INTERVAL", 0),
			CommandPoll: getEnvDuration("COMMAND_POLL", 2*time.Second),
		},
		Scraper: ScraperConfig{
			DelayMS:   getEnvInt("SCRAPE_DELAY_MS", 500),
			Workers:   getEnvInt("SCRAPE_WORKERS", 4),
			MaxOffers: getEnvInt("SCRAPE_MAX_OFFERS", 50),
			Timeout:   getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second),
			UserAgent: getEnv("SCRAPE_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		},
		Liveness: LivenessConfig{
			Interval:   getEnvDuration("LIVENESS_INTERVAL", 0),
			StaleAfter: getEnvDuration("LIVENESS_STALE_AFTER", 72*time.Hour),
			BatchSize:  getEnvInt("LIVENESS_BATCH", 25),
			DelayMS:    getEnvInt("LIVENESS_DELAY_MS", 1000),
		},
		Extraction: ExtractionConfig{
			AllowDefaultBuildingType: getEnvBool("ALLOW_DEFAULT_BUILDING_TYPE", true),
			DefaultBuildingType:      getEnv("DEFAULT_BUILDING_TYPE", "panel"),
			NewConstructionYears:     getEnvInt("NEW_CONSTRUCTION_YEARS", 3),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "ru-central1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "exports"),
		},
		API: APIConfig{
			Addr: os.Getenv("API_ADDR"),
		},
		DBPath:   getEnv("DB_PATH", "scraper.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", "scraper.log"),
		SitesDir: getEnv("SITES_DIR", filepath.Join("config", "sites")),
		Sites:    make(map[string]*SiteConfig),
	}

	if cfg.Store.Driver != "sqlite" && cfg.Store.Driver != "postgres" {
		return nil, fmt.Errorf("unknown STORE %q (want sqlite or postgres)", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DatabaseURL == "" {
		return nil, fmt.Errorf("STORE=postgres requires DATABASE_URL")
	}

	sites, err := LoadSites(cfg.SitesDir)
	if err != nil {
		return nil, err
	}
	cfg.Sites = sites

	return cfg, nil
}

// LoadSites reads every *.yaml site definition in dir. A missing dir is
// not an error.
func LoadSites(dir string) (map[string]*SiteConfig, error) {
	sites := make(map[string]*SiteConfig)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return sites, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if site.ID == "" {
			site.ID = strings.TrimSuffix(entry.Name(), ".yaml")
		}
		if site.Handler == "" {
			site.Handler = "http"
		}
		if len(site.SearchURLs) == 0 {
			return nil, fmt.Errorf("%s: site %s has no search_urls", path, site.ID)
		}

		sites[site.ID] = &site
	}

	return sites, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
