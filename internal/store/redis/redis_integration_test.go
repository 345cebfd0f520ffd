package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"caisse/backend/internal/store"
	"caisse/backend/internal/store/storetest"
)

func TestRedisLedger(t *testing.T) {
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set LEDGER_TEST_REDIS_ADDR to run redis integration test")
	}

	storetest.Run(t, func(t *testing.T) store.Ledger {
		prefix := fmt.Sprintf("ledger-test-%d", time.Now().UnixNano())
		s, err := New(context.Background(), Options{Addr: addr, KeyPrefix: prefix}, nil)
		require.NoError(t, err)

		cleanup := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() {
			ctx := context.Background()
			iter := cleanup.Scan(ctx, 0, prefix+":*", 100).Iterator()
			for iter.Next(ctx) {
				_ = cleanup.Del(ctx, iter.Val()).Err()
			}
			_ = cleanup.Close()
		})
		return s
	})
}
