// Package redis keeps the ledger in Redis. Update units use optimistic
// locking: every key read inside a unit is WATCHed and the staged writes
// go out in one MULTI/EXEC, so a concurrent writer makes EXEC fail with
// redis.TxFailedErr, reported as store.ErrConflict.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/store"
)

type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type Store struct {
	client *redis.Client
	prefix string
}

func New(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	s := NewWithClient(client, opts.KeyPrefix)
	logger.Info("redis ledger ready", zap.String("addr", opts.Addr), zap.String("prefix", s.prefix))
	return s, nil
}

func NewWithClient(client *redis.Client, prefix string) *Store {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "ledger"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) invoiceKey(number string) string { return s.prefix + ":invoice:" + number }
func (s *Store) indexKey(number string) string   { return s.prefix + ":index:" + number }
func (s *Store) vendorKey(id string) string      { return s.prefix + ":vendor:" + id }
func (s *Store) invoicesKey() string             { return s.prefix + ":invoices" }
func (s *Store) vendorsKey() string              { return s.prefix + ":vendors" }

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	t := &tx{
		s:              s,
		invoices:       make(map[string]domain.Invoice),
		index:          make(map[string]domain.LedgerIndexEntry),
		vendors:        make(map[string]domain.VendorTotal),
		deletedVendors: make(map[string]struct{}),
	}

	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		t.rtx = rtx
		if err := fn(t); err != nil {
			return err
		}
		if t.empty() {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return t.flush(ctx, pipe)
		})
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func (s *Store) GetInvoice(ctx context.Context, invoiceNumber string) (*domain.Invoice, error) {
	var inv domain.Invoice
	found, err := getJSON(ctx, s.client, s.invoiceKey(invoiceNumber), &inv)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return &inv, nil
}

func (s *Store) GetVendorTotal(ctx context.Context, vendorID string) (domain.VendorTotal, error) {
	total := domain.VendorTotal{VendorID: vendorID}
	if _, err := getJSON(ctx, s.client, s.vendorKey(vendorID), &total); err != nil {
		return domain.VendorTotal{}, err
	}
	return total, nil
}

func (s *Store) ListVendorTotals(ctx context.Context) ([]domain.VendorTotal, error) {
	ids, err := s.client.SMembers(ctx, s.vendorsKey()).Result()
	if err != nil {
		return nil, err
	}
	return s.vendorTotals(ctx, s.client, ids)
}

func (s *Store) ListRecentInvoices(ctx context.Context, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 20
	}
	top, err := s.client.ZRevRangeWithScores(ctx, s.invoicesKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	numbers := make([]string, 0, len(top))
	for _, z := range top {
		numbers = append(numbers, fmt.Sprint(z.Member))
	}

	// ZREVRANGE breaks score ties in reverse member order, so every member
	// sharing the last score is fetched before sorting.
	if len(top) == limit {
		edge := strconv.FormatFloat(top[len(top)-1].Score, 'f', -1, 64)
		tied, err := s.client.ZRangeByScore(ctx, s.invoicesKey(), &redis.ZRangeBy{Min: edge, Max: edge}).Result()
		if err != nil {
			return nil, err
		}
		numbers = mergeNumbers(numbers, tied)
	}

	invoices, err := s.invoicesByNumber(ctx, s.client, numbers)
	if err != nil {
		return nil, err
	}
	sortRecent(invoices)
	if len(invoices) > limit {
		invoices = invoices[:limit]
	}
	return invoices, nil
}

// sortRecent orders invoices newest first, ties by invoice number.
func sortRecent(invoices []domain.Invoice) {
	sort.Slice(invoices, func(i, j int) bool {
		if invoices[i].UpdatedAt.Equal(invoices[j].UpdatedAt) {
			return invoices[i].InvoiceNumber < invoices[j].InvoiceNumber
		}
		return invoices[i].UpdatedAt.After(invoices[j].UpdatedAt)
	})
}

func mergeNumbers(numbers, extra []string) []string {
	seen := make(map[string]struct{}, len(numbers)+len(extra))
	merged := make([]string, 0, len(numbers)+len(extra))
	for _, list := range [][]string{numbers, extra} {
		for _, number := range list {
			if _, dup := seen[number]; dup {
				continue
			}
			seen[number] = struct{}{}
			merged = append(merged, number)
		}
	}
	return merged
}

func (s *Store) ListInvoiceNumbers(ctx context.Context, limit int) ([]string, error) {
	numbers, err := s.client.ZRange(ctx, s.invoicesKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(numbers)
	if limit > 0 && len(numbers) > limit {
		numbers = numbers[:limit]
	}
	return numbers, nil
}

func (s *Store) invoicesByNumber(ctx context.Context, c reader, numbers []string) ([]domain.Invoice, error) {
	if len(numbers) == 0 {
		return []domain.Invoice{}, nil
	}
	keys := make([]string, len(numbers))
	for i, number := range numbers {
		keys[i] = s.invoiceKey(number)
	}
	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	invoices := make([]domain.Invoice, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var inv domain.Invoice
		if err := json.Unmarshal([]byte(raw), &inv); err != nil {
			return nil, fmt.Errorf("decode invoice %s: %w", numbers[i], err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func (s *Store) vendorTotals(ctx context.Context, c reader, ids []string) ([]domain.VendorTotal, error) {
	sort.Strings(ids)
	if len(ids) == 0 {
		return []domain.VendorTotal{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.vendorKey(id)
	}
	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	totals := make([]domain.VendorTotal, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var total domain.VendorTotal
		if err := json.Unmarshal([]byte(raw), &total); err != nil {
			return nil, fmt.Errorf("decode vendor total %s: %w", ids[i], err)
		}
		totals = append(totals, total)
	}
	return totals, nil
}

type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func getJSON(ctx context.Context, c reader, key string, dest any) (bool, error) {
	val, err := c.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
