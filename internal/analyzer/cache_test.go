package analyzer

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/seoman/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func sampleAnalysis() *model.WebsiteAnalysis {
	return &model.WebsiteAnalysis{
		ProjectName: "Acme",
		Industry:    "Technology",
		Services:    []string{"Hosting"},
		TargetAudience: model.AnalysisTargetAudience{
			Gender:    []string{"Male", "Female"},
			Languages: []string{"English"},
			Location:  []string{"Global"},
		},
	}
}

func TestRedisCache_GetMiss(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewRedisCache(client)

	got, err := cache.Get(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Get がエラーを返した: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil", got)
	}
}

func TestRedisCache_SetAndGet(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewRedisCache(client)
	ctx := context.Background()

	want := sampleAnalysis()
	if err := cache.Set(ctx, "example.com", want, time.Hour); err != nil {
		t.Fatalf("Set がエラーを返した: %v", err)
	}
	if !mr.Exists(cacheKeyPrefix + "example.com") {
		t.Errorf("キー %q が保存されていない", cacheKeyPrefix+"example.com")
	}

	got, err := cache.Get(ctx, "example.com")
	if err != nil {
		t.Fatalf("Get がエラーを返した: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestRedisCache_Expires(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewRedisCache(client)
	ctx := context.Background()

	if err := cache.Set(ctx, "example.com", sampleAnalysis(), time.Minute); err != nil {
		t.Fatalf("Set がエラーを返した: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	got, err := cache.Get(ctx, "example.com")
	if err != nil {
		t.Fatalf("Get がエラーを返した: %v", err)
	}
	if got != nil {
		t.Error("TTL経過後はキャッシュが無効になるべき")
	}
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewRedisCache(client)

	mr.Set(cacheKeyPrefix+"example.com", "not json")
	if _, err := cache.Get(context.Background(), "example.com"); err == nil {
		t.Error("壊れたエントリはエラーになるべき")
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient がエラーを返した: %v", err)
	}
	client.Close()
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "http://not-redis"); err == nil {
		t.Error("redis:// 以外のURLはエラーになるべき")
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisClient(ctx, "redis://"+addr); err == nil {
		t.Error("接続できないRedisはエラーになるべき")
	}
}
