package revgeo

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"geotag/internal/gazetteer"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testCities = "Edmonton\t53.55014\t-113.46871\tCA\t01\tAmerica/Edmonton\n" +
	"Calgary\t51.05011\t-114.08529\tCA\t01\tAmerica/Edmonton\n" +
	"Vancouver\t49.24966\t-123.11934\tCA\t02\tAmerica/Vancouver\n"

func testIndex(t *testing.T) *gazetteer.Index {
	t.Helper()
	ix, err := gazetteer.Parse(strings.NewReader(testCities),
		strings.NewReader("CA\tCanada\n"),
		strings.NewReader("CA.01\tAlberta\nCA.02\tBritish Columbia\n"),
		strings.NewReader("America/Edmonton\nAmerica/Vancouver\n"))
	if err != nil {
		t.Fatalf("parse gazetteer: %v", err)
	}
	return ix
}

func TestBucket(t *testing.T) {
	cases := []struct {
		lat, lon float64
		want     string
	}{
		{53.5501, -113.4687, "53.55,-113.47"},
		{53.546, -113.474, "53.55,-113.47"},
		{-0.004, 0.001, "0.00,0.00"},
		{-33.8679, 151.2073, "-33.87,151.21"},
	}
	for _, c := range cases {
		if got := Bucket(c.lat, c.lon); got != c.want {
			t.Errorf("Bucket(%v,%v) = %q, want %q", c.lat, c.lon, got, c.want)
		}
	}
}

func TestDistance(t *testing.T) {
	d := Distance(53.55014, -113.46871, 51.05011, -114.08529)
	if math.Abs(d-281.13) > 0.1 {
		t.Fatalf("Edmonton-Calgary = %.2f km, want ~281.13", d)
	}
	// 同一点：acos 输入可能因舍入略大于 1
	if d := Distance(53.55014, -113.46871, 53.55014, -113.46871); d != 0 && d > 1e-6 {
		t.Fatalf("zero distance expected, got %v", d)
	}
	if d := Distance(0, 0, 0, 180); math.Abs(d-math.Pi*EarthRadiusKm) > 1e-6 && d != 0 {
		t.Fatalf("antipodal distance = %v", d)
	}
}

func TestLookupScansOncePerBucket(t *testing.T) {
	c := New(testIndex(t), Options{})
	ctx := context.Background()

	e := c.Lookup(ctx, 53.5501, -113.4687)
	if e.City != "Edmonton" || e.Region != "Alberta" || e.Country != "Canada" || e.Timezone != "America/Edmonton" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	for _, p := range [][2]float64{{53.546, -113.474}, {53.554, -113.466}, {53.5501, -113.4687}} {
		if got := c.Lookup(ctx, p[0], p[1]); got != e {
			t.Fatalf("same bucket returned different entry: %+v", got)
		}
	}
	if c.Scans() != 1 {
		t.Fatalf("expected 1 scan, got %d", c.Scans())
	}
	if got := c.Lookup(ctx, 51.05, -114.08); got.City != "Calgary" {
		t.Fatalf("expected Calgary, got %+v", got)
	}
	if c.Scans() != 2 || c.Len() != 2 {
		t.Fatalf("scans=%d len=%d, want 2/2", c.Scans(), c.Len())
	}
}

func TestLookupEmptyGazetteer(t *testing.T) {
	var resolved []string
	c := New(nil, Options{OnResolve: func(b string, _ Entry) { resolved = append(resolved, b) }})
	e := c.Lookup(context.Background(), 10, 10)
	if e.Known() {
		t.Fatalf("expected unknown entry, got %+v", e)
	}
	c.Lookup(context.Background(), 10.001, 10.001)
	if c.Scans() != 1 || len(resolved) != 1 {
		t.Fatalf("miss should be cached: scans=%d resolved=%v", c.Scans(), resolved)
	}
}

func TestRedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	tier := NewRedisTier(rdb, time.Hour)
	ctx := context.Background()

	first := New(testIndex(t), Options{Tier: tier})
	e := first.Lookup(ctx, 53.5501, -113.4687)
	if !mr.Exists("geocode:53.55,-113.47") {
		t.Fatalf("scan result not written through to redis")
	}
	if ttl := mr.TTL("geocode:53.55,-113.47"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	second := New(testIndex(t), Options{Tier: tier})
	got := second.Lookup(ctx, 53.5501, -113.4687)
	if got != e || second.Scans() != 0 {
		t.Fatalf("expected redis hit without scan: %+v scans=%d", got, second.Scans())
	}

	mr.Set("geocode:1.00,1.00", "{not json")
	if _, ok := tier.Get(ctx, "1.00,1.00"); ok {
		t.Fatalf("corrupt value should be a miss")
	}
}

type fakeRemote struct {
	calls   atomic.Int32
	release chan struct{}
	entry   Entry
	err     error
}

func (f *fakeRemote) Reverse(ctx context.Context, lat, lon float64) (Entry, error) {
	f.calls.Add(1)
	select {
	case <-f.release:
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
	return f.entry, f.err
}

func TestResolveQueuesWhilePending(t *testing.T) {
	remote := &fakeRemote{release: make(chan struct{}), entry: Entry{City: "Downtown", Country: "Canada"}}
	c := New(testIndex(t), Options{Remote: remote})
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	cb := func(i int) Callback {
		return func(_ string, e Entry) {
			mu.Lock()
			defer mu.Unlock()
			if e.City != "Downtown" || e.Timezone != "America/Edmonton" || e.Source != SourceRemote {
				t.Errorf("callback %d got %+v", i, e)
			}
			order = append(order, i)
			if len(order) == 3 {
				close(done)
			}
		}
	}
	for i := 1; i <= 3; i++ {
		if c.Resolve(ctx, 53.5501, -113.4687, cb(i)) {
			t.Fatalf("resolve %d should be queued", i)
		}
	}
	if !c.Pending("53.55,-113.47") {
		t.Fatalf("bucket should be pending")
	}
	close(remote.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("callbacks not delivered")
	}
	mu.Lock()
	if order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callbacks out of order: %v", order)
	}
	mu.Unlock()
	// 唯一一次扫描用于补全远程结果的时区
	if remote.calls.Load() != 1 || c.Scans() != 1 {
		t.Fatalf("calls=%d scans=%d, want 1/1", remote.calls.Load(), c.Scans())
	}
	if !c.Resolve(ctx, 53.5501, -113.4687, nil) {
		t.Fatalf("resolved bucket should answer immediately")
	}
}

func TestLookupWaitsForPendingRemote(t *testing.T) {
	remote := &fakeRemote{release: make(chan struct{}), entry: Entry{City: "Downtown", Country: "Canada"}}
	c := New(testIndex(t), Options{Remote: remote})
	ctx := context.Background()

	queued := make(chan Entry, 1)
	if c.Resolve(ctx, 53.5501, -113.4687, func(_ string, e Entry) { queued <- e }) {
		t.Fatalf("resolve should be queued")
	}
	got := make(chan Entry, 1)
	go func() { got <- c.Lookup(ctx, 53.546, -113.474) }()
	select {
	case e := <-got:
		t.Fatalf("lookup returned before remote finished: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
	close(remote.release)

	var direct, viaQueue Entry
	select {
	case direct = <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("lookup never returned")
	}
	select {
	case viaQueue = <-queued:
	case <-time.After(2 * time.Second):
		t.Fatalf("queued callback never delivered")
	}
	if direct.City != "Downtown" || viaQueue.City != "Downtown" {
		t.Fatalf("direct=%+v queued=%+v, want remote entry for both", direct, viaQueue)
	}
	if remote.calls.Load() != 1 || c.Scans() != 1 {
		t.Fatalf("calls=%d scans=%d, want 1/1", remote.calls.Load(), c.Scans())
	}
}

func TestLookupAfterPendingFailureScans(t *testing.T) {
	remote := &fakeRemote{release: make(chan struct{}), err: errors.New("boom")}
	c := New(testIndex(t), Options{Remote: remote})
	ctx := context.Background()

	c.Resolve(ctx, 53.5501, -113.4687, nil)
	got := make(chan Entry, 1)
	go func() { got <- c.Lookup(ctx, 53.5501, -113.4687) }()
	close(remote.release)
	select {
	case e := <-got:
		if e.City != "Edmonton" || e.Source != SourceGazetteer || c.Scans() != 1 {
			t.Fatalf("got %+v scans=%d", e, c.Scans())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("lookup never returned")
	}
}

func TestLookupPendingHonoursContext(t *testing.T) {
	remote := &fakeRemote{release: make(chan struct{})}
	c := New(testIndex(t), Options{Remote: remote})
	defer close(remote.release)

	c.Resolve(context.Background(), 53.5501, -113.4687, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if e := c.Lookup(ctx, 53.5501, -113.4687); e.Known() || c.Scans() != 0 {
		t.Fatalf("cancelled lookup = %+v scans=%d", e, c.Scans())
	}
	if _, ok := c.Peek("53.55,-113.47"); ok {
		t.Fatalf("cancelled lookup must not cache")
	}
}

func TestResolveFailureDropsQueue(t *testing.T) {
	remote := &fakeRemote{release: make(chan struct{}), err: errors.New("boom")}
	c := New(testIndex(t), Options{Remote: remote})
	ctx := context.Background()

	var called atomic.Int32
	cb := func(string, Entry) { called.Add(1) }
	c.Resolve(ctx, 10, 10, cb)
	c.Resolve(ctx, 10, 10, cb)
	close(remote.release)

	deadline := time.Now().Add(2 * time.Second)
	for c.Pending(Bucket(10, 10)) {
		if time.Now().After(deadline) {
			t.Fatalf("pending marker never cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if called.Load() != 0 {
		t.Fatalf("queued callers should not be notified on failure")
	}
	if _, ok := c.Peek(Bucket(10, 10)); ok {
		t.Fatalf("failed bucket must not be cached")
	}
	// 不自动重试，调用方再次发起才会请求
	if remote.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", remote.calls.Load())
	}
	c.Resolve(ctx, 10, 10, cb)
	// fetch 在 goroutine 中启动
	deadline = time.Now().Add(2 * time.Second)
	for remote.calls.Load() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("manual re-trigger should issue a new request")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResolveWithoutRemoteIsSync(t *testing.T) {
	c := New(testIndex(t), Options{})
	var got Entry
	if !c.Resolve(context.Background(), 49.25, -123.12, func(_ string, e Entry) { got = e }) {
		t.Fatalf("expected immediate callback")
	}
	if got.City != "Vancouver" || c.Scans() != 1 {
		t.Fatalf("got %+v scans=%d", got, c.Scans())
	}
}

func TestWarm(t *testing.T) {
	c := New(testIndex(t), Options{})
	n := c.Warm(map[string]Entry{"53.55,-113.47": {City: "Cached"}})
	if n != 1 {
		t.Fatalf("warm = %d", n)
	}
	if e := c.Lookup(context.Background(), 53.5501, -113.4687); e.City != "Cached" || c.Scans() != 0 {
		t.Fatalf("warm entry not used: %+v", e)
	}
}
