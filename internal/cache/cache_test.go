package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/sst-grid-service/internal/models"
)

func testReading() models.Reading {
	temp := 25.3
	return models.Reading{
		Date:        "2024-07-29",
		Resolution:  "high",
		Latitude:    35.4,
		Longitude:   139.8,
		Temperature: &temp,
		Units:       "degree",
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := testReading()
	if err := c.Set(ctx, "high:20240729:354:397", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "high:20240729:354:397")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Date != val.Date || *got.Temperature != *val.Temperature {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache()

	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false for expired
// entries and removes them from cache on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewInMemoryCacheWithClock(clock)

	if err := c.Set(ctx, "k", testReading(), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	clock.Advance(59 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() before TTL ok = false, want true")
	}

	clock.Advance(2 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Error("Expired entry should be deleted from cache")
	}
}

func TestInMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := ReadingKey(models.Fine, time.Date(2024, 7, 29, 0, 0, 0, 0, time.UTC), i, i)
			_ = c.Set(ctx, key, testReading(), time.Minute)
			_, _, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()
	if c.Len() != 50 {
		t.Errorf("Len() = %d, want 50", c.Len())
	}
}

func TestReadingKey(t *testing.T) {
	got := ReadingKey(models.Coarse, time.Date(2021, 1, 2, 15, 0, 0, 0, time.UTC), 7, 1439)
	if got != "low:20210102:7:1439" {
		t.Errorf("ReadingKey() = %q", got)
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" a:11211, ,b:11211 ")
	if len(got) != 2 || got[0] != "a:11211" || got[1] != "b:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
}
