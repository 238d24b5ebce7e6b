package app

import (
	"fmt"

	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/redis"
)

func (app *App) initializeRedis() error {
	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.RedisClient = redisClient
	app.Logger.Info("Token cache: Redis", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	return nil
}
