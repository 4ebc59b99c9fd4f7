package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig 单个数据源的采集配置
type SourceConfig struct {
	Enabled bool `yaml:"enabled"`
	// URL 列表页或开放接口地址，留空用内置默认
	URL     string `yaml:"url"`
	FeedURL string `yaml:"feedUrl"`
	// CronSpec 非空时该源脱离默认任务，按独立周期调度
	CronSpec    string `yaml:"cronSpec"`
	MaxItems    int    `yaml:"maxItems"`
	MaxAgeHours int    `yaml:"maxAgeHours"`
}

type Config struct {
	AppPort       string
	BasicAuthUser string
	BasicAuthPass string

	// PostgresDSN 为空时退化为 BoltPath 指向的嵌入式存储
	PostgresDSN string
	BoltPath    string
	// RedisAddr 可选，仅做判重加速
	RedisAddr string

	// 下游内容 API
	APIBaseURL string
	APIKey     string

	CronSpec             string
	SchedulerAutoStart   bool
	MaxConcurrentSources int

	// ArticleDelay 相邻两篇投递之间的最小间隔，对下游限速
	ArticleDelay   time.Duration
	FetchTimeout   time.Duration
	DeliverTimeout time.Duration

	UserAgent string

	// Kafka 旁路事件，broker 为空则关闭
	KafkaBroker string
	KafkaTopic  string

	// BrowserScraperAddr 浏览器渲染侧车地址，部分站点用它补全正文
	BrowserScraperAddr string

	SourcesFile string
	LogLevel    string

	Sources map[string]SourceConfig
}

func Load() (*Config, error) {
	cfg := &Config{
		AppPort:       getEnv("APP_PORT", "9000"),
		BasicAuthUser: getEnv("APP_BASIC_USER", ""),
		BasicAuthPass: getEnv("APP_BASIC_PASS", ""),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		BoltPath:    getEnv("BOLT_PATH", "newsrelay.db"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8000"),
		APIKey:     getEnv("API_KEY", ""),

		CronSpec:             getEnv("CRON_SPEC", "*/30 * * * *"),
		SchedulerAutoStart:   getEnvBool("SCHEDULER_AUTO_START", true),
		MaxConcurrentSources: getEnvInt("MAX_CONCURRENT_SOURCES", 4),

		ArticleDelay:   getEnvDuration("ARTICLE_DELAY", 2*time.Second),
		FetchTimeout:   getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		DeliverTimeout: getEnvDuration("DELIVER_TIMEOUT", 20*time.Second),

		UserAgent: getEnv("USER_AGENT", "NewsRelayBot/1.0"),

		KafkaBroker: getEnv("KAFKA_BROKER", ""),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "newsrelay.delivered"),

		BrowserScraperAddr: getEnv("BROWSER_SCRAPER_ADDR", ""),

		SourcesFile: getEnv("SOURCES_FILE", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		Sources: defaultSources(),
	}

	// 外部源清单存在时整体替换内置默认，文件即启用白名单
	if cfg.SourcesFile != "" {
		sources, err := loadSourcesFile(cfg.SourcesFile)
		if err != nil {
			return nil, err
		}
		cfg.Sources = sources
	}

	// ENABLED_SOURCES 只收敛启用范围，不新增源
	if raw := getEnv("ENABLED_SOURCES", ""); raw != "" {
		allow := make(map[string]bool)
		for _, name := range strings.Split(raw, ",") {
			allow[strings.TrimSpace(name)] = true
		}
		for name, sc := range cfg.Sources {
			sc.Enabled = sc.Enabled && allow[name]
			cfg.Sources[name] = sc
		}
	}

	return cfg, nil
}

// EnabledSources 返回启用的数据源名称，按字典序保证稳定
func (c *Config) EnabledSources() []string {
	names := make([]string, 0, len(c.Sources))
	for name, sc := range c.Sources {
		if sc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func defaultSources() map[string]SourceConfig {
	return map[string]SourceConfig{
		"jinse": {
			Enabled:  true,
			URL:      "https://api.jinse.cn/noah/v2/news?limit=20",
			MaxItems: 20,
		},
		"odaily": {
			Enabled:  true,
			URL:      "https://www.odaily.news",
			MaxItems: 15,
		},
		"panews": {
			Enabled:     true,
			FeedURL:     "https://rss.panewslab.com/zh/news/rss",
			MaxItems:    30,
			MaxAgeHours: 48,
		},
		"theblockbeats": {
			Enabled:  true,
			URL:      "https://api.theblockbeats.news/v1/open-api/open-information",
			MaxItems: 20,
		},
	}
}

func loadSourcesFile(path string) (map[string]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var sources map[string]SourceConfig
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("sources file %s has no entries", path)
	}
	return sources, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
