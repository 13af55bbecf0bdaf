package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xinyuan_tech/billing-service/internal/conf"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}
	if err := bc.Validate(); err != nil {
		panic(err)
	}

	// 初始化应用
	app, cleanup, err := wireApp(&bc)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	staleSpec := "0 0 3 * * *"
	onHoldSpec := "0 */30 * * * *"
	if bc.Cron != nil {
		if bc.Cron.StaleSubscriptionSweep != "" {
			staleSpec = bc.Cron.StaleSubscriptionSweep
		}
		if bc.Cron.OnHoldDetector != "" {
			onHoldSpec = bc.Cron.OnHoldDetector
		}
	}

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	// 1. 过期订阅清理：终结已越过宽限窗口的订阅并结算账本
	_, err = cronScheduler.AddFunc(staleSpec, func() {
		log.Println("[CRON] Starting stale subscription sweep...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		summary, err := app.billingUsecase.StaleSubscriptionSweep(ctx)
		if err != nil {
			log.Printf("[CRON] Stale subscription sweep finished with errors: %v", err)
		}
		if summary != nil {
			log.Printf("[CRON] Stale subscription sweep: scanned=%d, mutated=%v, failed=%v, resubscribed=%v",
				summary.Scanned, summary.MutatedIDs, summary.FailedIDs, summary.Resubscribed)
		}
		log.Println("[CRON] Finished stale subscription sweep")
	})
	if err != nil {
		log.Printf("Failed to add stale subscription sweep job: %v", err)
	}

	// 2. 挂起侦测：扣款到期未入账的订阅先向伙伴对账自愈，仍无果则挂起
	_, err = cronScheduler.AddFunc(onHoldSpec, func() {
		log.Println("[CRON] Starting on-hold detector...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		summary, err := app.billingUsecase.OnHoldDetector(ctx)
		if err != nil {
			log.Printf("[CRON] On-hold detector finished with errors: %v", err)
		}
		if summary != nil {
			log.Printf("[CRON] On-hold detector: scanned=%d, mutated=%v, failed=%v",
				summary.Scanned, summary.MutatedIDs, summary.FailedIDs)
		}
		log.Println("[CRON] Finished on-hold detector")
	})
	if err != nil {
		log.Printf("Failed to add on-hold detector job: %v", err)
	}

	// 启动定时任务
	cronScheduler.Start()
	log.Println("========================================")
	log.Println("Billing cron jobs started successfully")
	log.Println("Scheduled jobs:")
	log.Printf("  - Stale subscription sweep: %s", staleSpec)
	log.Printf("  - On-hold detector:         %s", onHoldSpec)
	log.Println("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	// 停止定时任务
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		log.Println("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Println("Cron jobs forced to stop after timeout")
	}
}
