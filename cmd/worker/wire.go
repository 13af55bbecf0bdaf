//go:build wireinject
// +build wireinject

package main

import (
	"os"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/conf"
	"xinyuan_tech/billing-service/internal/data"
	"xinyuan_tech/billing-service/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// WorkerApp Worker 应用结构
type WorkerApp struct {
	billingService *service.BillingService
	rdb            *redis.Client
}

// wireApp 初始化应用
func wireApp(*conf.Bootstrap) (*WorkerApp, func(), error) {
	panic(wire.Build(
		newLogger,

		// Data 层
		data.ProviderSet,

		// Biz 层
		biz.ProviderSet,

		// Service 层
		service.ProviderSet,

		// App 结构
		wire.Struct(new(WorkerApp), "*"),
	))
}

// newLogger 创建 logger
func newLogger(c *conf.Bootstrap) log.Logger {
	return log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "billing-worker",
	)
}
