package jwt

import (
	"time"

	"whatsapp-inbox-backend/internal/env"

	"github.com/go-redis/redis/v8"
)

var (
	OPERATOR_SECRET string
	RedisClient     *redis.Client
)

const RefreshTokenTTL = 24 * 30 * time.Hour

const (
	RoleOperator Role = iota
)

var RoleSecrets = map[Role]string{}

func init() {
	OPERATOR_SECRET = env.Get("USER_SECRET")
	RoleSecrets[RoleOperator] = OPERATOR_SECRET

	RedisClient = redis.NewClient(&redis.Options{
		Addr:     env.Get("AUTH_REDIS_URL"),
		Password: env.Get("AUTH_REDIS_PASS"),
		DB:       0,
	})
}
