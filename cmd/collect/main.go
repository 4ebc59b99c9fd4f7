package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/LJTian/NewsRelay/internal/app"
	"github.com/LJTian/NewsRelay/internal/config"
	"github.com/LJTian/NewsRelay/internal/controller"
	"github.com/LJTian/NewsRelay/internal/logger"
)

// 一个仅执行一轮采集投递的命令行入口：适合手动补采或排查单个源
func main() {
	var (
		source  = flag.String("source", "", "只跑指定源，留空跑全部启用的源")
		timeout = flag.Duration("timeout", 10*time.Minute, "整轮运行的超时时间")
	)
	flag.Parse()

	log := logger.New(os.Getenv("LOG_LEVEL"))
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// 一次性运行不需要后台调度
	cfg.SchedulerAutoStart = false

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var reports []controller.CycleReport
	if *source != "" {
		rep, err := application.TriggerSource(ctx, *source)
		if err != nil {
			application.Close()
			log.Fatalf("trigger source: %v", err)
		}
		reports = []controller.CycleReport{rep}
	} else {
		reports = application.TriggerAll(ctx)
	}

	failed := 0
	for _, rep := range reports {
		if rep.SourceError != "" {
			failed++
			log.Warnf("[%s] cycle failed: %s", rep.Source, rep.SourceError)
			continue
		}
		log.Infof("[%s] candidates=%d dropped=%d new=%d delivered=%d rejected=%d retryable=%d",
			rep.Source, rep.Candidates, rep.Dropped, rep.New, rep.Delivered, rep.Rejected, rep.Retryable)
	}

	if err := application.Close(); err != nil {
		log.Warnf("close app: %v", err)
	}
	// 全军覆没按失败退出，方便外面的 cron 告警
	if len(reports) > 0 && failed == len(reports) {
		os.Exit(1)
	}
}
