package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/constants"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/redis/go-redis/v9"
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

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// 伙伴事件消费循环
	wg.Add(1)
	go func() {
		defer wg.Done()
		consume(ctx, app.rdb, constants.PartnerEventQueue, app.billingService.HandlePartnerEvent)
	}()

	// 订单事件消费循环
	wg.Add(1)
	go func() {
		defer wg.Done()
		consume(ctx, app.rdb, constants.OrderEventQueue, app.billingService.HandleOrderEvent)
	}()

	log.Println("========================================")
	log.Println("Billing worker started successfully")
	log.Printf("  - Partner events: %s", constants.PartnerEventQueue)
	log.Printf("  - Order events:   %s", constants.OrderEventQueue)
	log.Println("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")
	cancel()
	wg.Wait()
	log.Println("Billing worker stopped")
}

// consume 阻塞弹出队列消息并交给处理函数
// 处理失败只记录日志不回队：事件处理自身幂等，伙伴侧对账任务兜底
func consume(ctx context.Context, rdb *redis.Client, queue string, handle func(context.Context, []byte) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		vals, err := rdb.BRPop(ctx, constants.QueuePopTimeout, queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Printf("[WORKER] BRPOP %s failed: %v", queue, err)
			continue
		}
		// BRPOP 返回 [queue, value]
		if len(vals) != 2 {
			continue
		}

		if err := handle(ctx, []byte(vals[1])); err != nil {
			log.Printf("[WORKER] Failed to handle message from %s: %v", queue, err)
		}
	}
}
