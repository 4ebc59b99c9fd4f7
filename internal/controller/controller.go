package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LJTian/NewsRelay/internal/collector"
	"github.com/LJTian/NewsRelay/internal/delivery"
	"github.com/LJTian/NewsRelay/internal/processor"
	"github.com/LJTian/NewsRelay/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// CycleReport 一个信源一轮抓取的汇总。产出后只读。
type CycleReport struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Candidates  int       `json:"candidates"`
	Dropped     int       `json:"dropped"`
	New         int       `json:"new"`
	Delivered   int       `json:"delivered"`
	Rejected    int       `json:"rejected"`
	Retryable   int       `json:"retryable"`
	SourceError string    `json:"sourceError,omitempty"`
}

// Deliverer 投递一篇文章并给出三态结论
type Deliverer interface {
	Deliver(ctx context.Context, art processor.Article) delivery.Outcome
}

// Publisher 对外广播投递成功事件，可选
type Publisher interface {
	PublishDelivered(ctx context.Context, art processor.Article, deliveredAt time.Time) error
}

type Deps struct {
	Registry   *collector.Registry
	Normalizer *processor.Normalizer
	Store      storage.Store
	Deliverer  Deliverer
	// Publisher 为 nil 时不广播事件
	Publisher     Publisher
	MaxConcurrent int
	Log           *zap.SugaredLogger
}

// Controller 驱动 抓取→规范化→去重→投递 的单轮流水线。
// 同一信源的多轮之间串行，不同信源之间并行。
type Controller struct {
	registry   *collector.Registry
	normalizer *processor.Normalizer
	store      storage.Store
	deliverer  Deliverer
	publisher  Publisher
	maxConc    int
	log        *zap.SugaredLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(deps Deps) *Controller {
	if deps.MaxConcurrent <= 0 {
		deps.MaxConcurrent = 4
	}
	return &Controller{
		registry:   deps.Registry,
		normalizer: deps.Normalizer,
		store:      deps.Store,
		deliverer:  deps.Deliverer,
		publisher:  deps.Publisher,
		maxConc:    deps.MaxConcurrent,
		log:        deps.Log,
	}
}

// sourceLock 每个信源一把锁，手动触发会排在定时轮后面而不是并发跑
func (c *Controller) sourceLock(source string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks == nil {
		c.locks = make(map[string]*sync.Mutex)
	}
	l, ok := c.locks[source]
	if !ok {
		l = &sync.Mutex{}
		c.locks[source] = l
	}
	return l
}

// RunCycle 跑一个信源的完整一轮。任何失败都收进报告，不向上抛。
// ctx 取消只在两篇文章之间生效，进行中的投递会收尾完成。
func (c *Controller) RunCycle(ctx context.Context, source string) CycleReport {
	lock := c.sourceLock(source)
	lock.Lock()
	defer lock.Unlock()

	rep := CycleReport{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
	var retryURLs []string
	defer func() {
		rep.FinishedAt = time.Now().UTC()
		c.saveReport(ctx, rep, retryURLs)
	}()

	fetcher, ok := c.registry.Get(source)
	if !ok {
		rep.SourceError = fmt.Sprintf("source %q not registered", source)
		return rep
	}

	raws, err := fetcher.Fetch(ctx)
	if err != nil {
		rep.SourceError = fmt.Sprintf("fetch: %v", err)
		c.log.Warnf("[%s] fetch failed: %v", source, err)
		return rep
	}
	rep.Candidates = len(raws)

	// 缺字段的候选丢弃计数，同一轮里指纹重复的只留第一条
	inCycle := make(map[string]struct{}, len(raws))
	articles := make([]processor.Article, 0, len(raws))
	for _, raw := range raws {
		art, err := c.normalizer.Normalize(raw)
		if err != nil {
			rep.Dropped++
			c.log.Debugf("[%s] drop candidate %q: %v", source, raw.URL, err)
			continue
		}
		if _, dup := inCycle[art.Fingerprint]; dup {
			continue
		}
		inCycle[art.Fingerprint] = struct{}{}
		articles = append(articles, art)
	}

	fingerprints := make([]string, len(articles))
	for i := range articles {
		fingerprints[i] = articles[i].Fingerprint
	}
	freshSet, err := c.store.FilterNew(ctx, fingerprints)
	if err != nil {
		// 去重库不可用时整轮放弃，下一轮重来，避免重复投递
		rep.SourceError = fmt.Sprintf("dedup store: %v", err)
		c.log.Warnf("[%s] cycle aborted: %v", source, err)
		return rep
	}

	fresh := articles[:0]
	for _, art := range articles {
		if freshSet[art.Fingerprint] {
			fresh = append(fresh, art)
		}
	}
	rep.New = len(fresh)

	for _, art := range fresh {
		if ctx.Err() != nil {
			c.log.Infof("[%s] stop requested, %d articles left for next cycle", source, rep.New-rep.Delivered-rep.Rejected-rep.Retryable)
			break
		}
		out := c.deliverer.Deliver(ctx, art)
		switch out.Status {
		case delivery.StatusDelivered:
			rep.Delivered++
			c.markSeen(ctx, art)
			c.publishDelivered(ctx, art)
		case delivery.StatusRejected:
			// 下游永远不会收的内容也登记指纹，防止每轮都撞一遍
			rep.Rejected++
			c.log.Warnf("[%s] rejected %s: %s", source, art.URL, out.Reason)
			c.markSeen(ctx, art)
		default:
			rep.Retryable++
			retryURLs = append(retryURLs, art.URL)
			c.log.Warnf("[%s] delivery failed, retry next cycle %s: %s", source, art.URL, out.Reason)
		}
	}

	c.log.Infof("[%s] cycle done: candidates=%d dropped=%d new=%d delivered=%d rejected=%d retryable=%d",
		source, rep.Candidates, rep.Dropped, rep.New, rep.Delivered, rep.Rejected, rep.Retryable)
	return rep
}

// RunAll 并行跑多个信源，单个信源失败不影响其它信源。
// 返回的报告与 sources 顺序一一对应。
func (c *Controller) RunAll(ctx context.Context, sources []string) []CycleReport {
	reports := make([]CycleReport, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConc)
	for i, source := range sources {
		g.Go(func() error {
			reports[i] = c.RunCycle(gctx, source)
			return nil
		})
	}
	g.Wait()
	return reports
}

// markSeen 投递有结论后登记指纹。刻意剥离取消信号：
// 文章已经发出去了，指纹必须落库，否则下一轮会重复投递。
func (c *Controller) markSeen(ctx context.Context, art processor.Article) {
	if err := c.store.MarkSeen(context.WithoutCancel(ctx), art.Fingerprint, art.Source, time.Now().UTC()); err != nil {
		c.log.Warnf("[%s] mark seen %s: %v", art.Source, art.Fingerprint, err)
	}
}

func (c *Controller) publishDelivered(ctx context.Context, art processor.Article) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishDelivered(context.WithoutCancel(ctx), art, time.Now().UTC()); err != nil {
		c.log.Warnf("[%s] publish delivered event %s: %v", art.Source, art.Fingerprint, err)
	}
}

func (c *Controller) saveReport(ctx context.Context, rep CycleReport, retryURLs []string) {
	rec := &storage.ReportRecord{
		ID:          rep.ID,
		Source:      rep.Source,
		Candidates:  rep.Candidates,
		Dropped:     rep.Dropped,
		New:         rep.New,
		Delivered:   rep.Delivered,
		Rejected:    rep.Rejected,
		Retryable:   rep.Retryable,
		SourceError: rep.SourceError,
		StartedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
	}
	if len(retryURLs) > 0 {
		urls := make([]interface{}, len(retryURLs))
		for i, u := range retryURLs {
			urls[i] = u
		}
		rec.ExtraData = datatypes.JSONMap{"retryUrls": urls}
	}
	if err := c.store.SaveReport(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Warnf("[%s] save cycle report %s: %v", rep.Source, rep.ID, err)
	}
}
