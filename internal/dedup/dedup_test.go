package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryFilter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	f := NewMemoryFilter(time.Minute)
	f.now = func() time.Time { return now }

	tests := []struct {
		name    string
		advance time.Duration
		id      string
		want    bool
	}{
		{"first sight", 0, "m1", true},
		{"repeat", 0, "m1", false},
		{"other id", 0, "m2", true},
		{"empty always new", 0, "", true},
		{"empty again", 0, "", true},
		{"still remembered", 30 * time.Second, "m1", false},
		{"expired", time.Minute, "m1", true},
	}
	for _, tt := range tests {
		now = now.Add(tt.advance)
		if got := f.IsNew(ctx, tt.id); got != tt.want {
			t.Errorf("%s: IsNew(%q) = %v, want %v", tt.name, tt.id, got, tt.want)
		}
	}
}

func TestMemoryFilterBounded(t *testing.T) {
	f := NewMemoryFilter(time.Hour)
	ctx := context.Background()
	for i := 0; i < maxMemoryEntries+50; i++ {
		f.IsNew(ctx, time.Duration(i).String())
	}
	if f.Len() > maxMemoryEntries {
		t.Errorf("Len() = %d, exceeds %d", f.Len(), maxMemoryEntries)
	}
}

func TestRedisFilterFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	f := NewRedisFilter(rdb, "", 0, nil)
	defer f.Close()

	if f.key("abc") != DefaultKeyPrefix+"abc" {
		t.Errorf("key = %q", f.key("abc"))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !f.IsNew(ctx, "abc") || !f.IsNew(ctx, "abc") {
		t.Error("unreachable redis must fail open")
	}
}
