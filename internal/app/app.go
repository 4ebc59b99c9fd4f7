package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LJTian/NewsRelay/internal/collector"
	"github.com/LJTian/NewsRelay/internal/config"
	"github.com/LJTian/NewsRelay/internal/controller"
	"github.com/LJTian/NewsRelay/internal/delivery"
	"github.com/LJTian/NewsRelay/internal/events"
	"github.com/LJTian/NewsRelay/internal/processor"
	"github.com/LJTian/NewsRelay/internal/scheduler"
	"github.com/LJTian/NewsRelay/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrUnknownSource 请求了未注册的数据源
var ErrUnknownSource = errors.New("unknown source")

// DefaultJobName 没有独立周期的源统一挂在这个任务下
const DefaultJobName = "all"

// App 把存储、采集、投递、调度装配到一起，进程里只有一份
type App struct {
	Cfg        *config.Config
	Log        *zap.SugaredLogger
	Store      storage.Store
	Registry   *collector.Registry
	Controller *controller.Controller
	Scheduler  *scheduler.Scheduler

	publisher *events.KafkaPublisher
}

func New(cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	store, err := openStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := collector.NewRegistry()
	registerSources(cfg, registry, log)

	deliverer := delivery.NewClient(delivery.Options{
		BaseURL:      cfg.APIBaseURL,
		APIKey:       cfg.APIKey,
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.DeliverTimeout,
		ArticleDelay: cfg.ArticleDelay,
	}, log)

	var publisher *events.KafkaPublisher
	// 接口变量单独赋值，nil 的 *KafkaPublisher 塞进接口不再是 nil
	var pub controller.Publisher
	if cfg.KafkaBroker != "" {
		publisher = events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic, log)
		pub = publisher
	}

	ctrl := controller.New(controller.Deps{
		Registry:      registry,
		Normalizer:    processor.NewNormalizer(),
		Store:         store,
		Deliverer:     deliverer,
		Publisher:     pub,
		MaxConcurrent: cfg.MaxConcurrentSources,
		Log:           log,
	})

	a := &App{
		Cfg:        cfg,
		Log:        log,
		Store:      store,
		Registry:   registry,
		Controller: ctrl,
		Scheduler:  scheduler.New(ctrl, log),
		publisher:  publisher,
	}
	if err := a.registerJobs(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func openStore(cfg *config.Config, log *zap.SugaredLogger) (storage.Store, error) {
	var store storage.Store
	var err error
	if cfg.PostgresDSN != "" {
		store, err = storage.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Infof("dedup store: postgres")
	} else {
		store, err = storage.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Infof("dedup store: bolt at %s", cfg.BoltPath)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// 缓存只是加速，连不上照样跑
			log.Warnf("redis %s unreachable, running without warm cache: %v", cfg.RedisAddr, err)
		}
		store = storage.NewCachedStore(store, rdb, log)
	}
	return store, nil
}

func registerSources(cfg *config.Config, registry *collector.Registry, log *zap.SugaredLogger) {
	var browser *collector.BrowserClient
	if cfg.BrowserScraperAddr != "" {
		browser = collector.NewBrowserClient(cfg.BrowserScraperAddr)
	}

	for _, name := range cfg.EnabledSources() {
		sc := cfg.Sources[name]
		switch name {
		case "jinse":
			registry.Register(collector.NewJinseFetcher(collector.JinseOptions{
				ListURL:   sc.URL,
				MaxItems:  sc.MaxItems,
				Timeout:   cfg.FetchTimeout,
				UserAgent: cfg.UserAgent,
			}, log))
		case "odaily":
			registry.Register(collector.NewOdailyFetcher(collector.OdailyOptions{
				BaseURL:   sc.URL,
				MaxItems:  sc.MaxItems,
				Timeout:   cfg.FetchTimeout,
				UserAgent: cfg.UserAgent,
			}, log))
		case "panews":
			feed := sc.FeedURL
			if feed == "" {
				feed = sc.URL
			}
			registry.Register(collector.NewPanewsFetcher(collector.PanewsOptions{
				FeedURL:   feed,
				MaxItems:  sc.MaxItems,
				MaxAge:    time.Duration(sc.MaxAgeHours) * time.Hour,
				Timeout:   cfg.FetchTimeout,
				UserAgent: cfg.UserAgent,
			}, log))
		case "theblockbeats":
			registry.Register(collector.NewBlockbeatsFetcher(collector.BlockbeatsOptions{
				ListURL:   sc.URL,
				MaxItems:  sc.MaxItems,
				Timeout:   cfg.FetchTimeout,
				UserAgent: cfg.UserAgent,
			}, browser, log))
		default:
			log.Warnf("source %q enabled in config but no fetcher implements it, skipped", name)
		}
	}
}

// registerJobs 带独立 cronSpec 的源单开任务，其余合进默认任务
func (a *App) registerJobs() error {
	var shared []string
	for _, name := range a.Cfg.EnabledSources() {
		if _, ok := a.Registry.Get(name); !ok {
			continue
		}
		sc := a.Cfg.Sources[name]
		if sc.CronSpec != "" {
			spec := scheduler.JobSpec{Name: name, CronSpec: sc.CronSpec, Sources: []string{name}}
			if err := a.Scheduler.AddJob(spec); err != nil {
				return fmt.Errorf("add job %s: %w", name, err)
			}
			continue
		}
		shared = append(shared, name)
	}
	if len(shared) > 0 {
		spec := scheduler.JobSpec{Name: DefaultJobName, CronSpec: a.Cfg.CronSpec, Sources: shared}
		if err := a.Scheduler.AddJob(spec); err != nil {
			return fmt.Errorf("add job %s: %w", DefaultJobName, err)
		}
	}

	if a.Cfg.SchedulerAutoStart {
		for _, job := range a.Scheduler.Jobs() {
			if err := a.Scheduler.Start(job.Name); err != nil {
				return fmt.Errorf("start job %s: %w", job.Name, err)
			}
		}
	}
	return nil
}

// TriggerAll 立即对全部已注册源各跑一轮，同步返回报告
func (a *App) TriggerAll(ctx context.Context) []controller.CycleReport {
	return a.Controller.RunAll(ctx, a.Registry.Names())
}

// TriggerSource 对单个源跑一轮，源不存在返回 ErrUnknownSource
func (a *App) TriggerSource(ctx context.Context, name string) (controller.CycleReport, error) {
	if _, ok := a.Registry.Get(name); !ok {
		return controller.CycleReport{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return a.Controller.RunCycle(ctx, name), nil
}

// StatusSnapshot 控制面返回的运行状态总览
type StatusSnapshot struct {
	Sources []string              `json:"sources"`
	Jobs    []scheduler.JobStatus `json:"jobs"`
}

func (a *App) Status() StatusSnapshot {
	return StatusSnapshot{
		Sources: a.Registry.Names(),
		Jobs:    a.Scheduler.Jobs(),
	}
}

func (a *App) Jobs() []scheduler.JobStatus {
	return a.Scheduler.Jobs()
}

func (a *App) StartJob(name string) error {
	return a.Scheduler.Start(name)
}

func (a *App) StopJob(name string) error {
	return a.Scheduler.Stop(name)
}

func (a *App) TriggerJob(name string) ([]controller.CycleReport, error) {
	return a.Scheduler.TriggerNow(name)
}

// Stats 最近的轮次报告，source 为空不过滤
func (a *App) Stats(ctx context.Context, source string, limit int) ([]storage.ReportRecord, error) {
	return a.Store.RecentReports(ctx, source, limit)
}

// Close 先停调度再关存储，顺序不能反
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Scheduler.Shutdown(ctx); err != nil {
		a.Log.Warnf("scheduler shutdown: %v", err)
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Log.Warnf("close kafka publisher: %v", err)
		}
	}
	return a.Store.Close()
}
