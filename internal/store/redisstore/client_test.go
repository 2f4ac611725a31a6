package redisstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/map-session/internal/core/observability"
	"github.com/mohammed-shakir/map-session/internal/metrics"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestNew_RequiresAddress(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestSetGetMGetDel_HappyPath_AndMGetFiltersMissing(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.Set(ctx, "k2", []byte("v2")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := rc.Get(ctx, "k1")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get k1 = %q %v %v", v, ok, err)
	}
	if _, ok, err := rc.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get missing should be ok=false without error, got %v %v", ok, err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("MGet size=%d want 2", len(got))
	}
	if string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %+v", got)
	}

	if err := rc.Del(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
}

func TestSetNXIncrAndTx(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	ok, err := rc.SetNX(ctx, "meta", []byte("a"))
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v %v", ok, err)
	}
	if ok, _ := rc.SetNX(ctx, "meta", []byte("b")); ok {
		t.Fatalf("second SetNX must not overwrite")
	}

	for want := int64(1); want <= 3; want++ {
		n, err := rc.Incr(ctx, "seq")
		if err != nil || n != want {
			t.Fatalf("Incr = %d %v, want %d", n, err, want)
		}
	}

	err = rc.Tx(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, "f:1", "one", 0)
		p.SAdd(ctx, "ids", "1", "2")
		return nil
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if v, _ := mr.Get("f:1"); v != "one" {
		t.Fatalf("tx write missing, got %q", v)
	}
	ms, err := rc.SMembers(ctx, "ids")
	if err != nil || len(ms) != 2 {
		t.Fatalf("SMembers = %v %v", ms, err)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
}

func TestMetrics_Recorded(t *testing.T) {
	p := metrics.Init(metrics.BuildInfo{})
	observability.Init(p.Registerer())

	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = rc.Set(ctx, "m1", []byte("x"))
	_, _ = rc.MGet(ctx, []string{"m1"})
	_ = rc.Del(ctx, "m1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, op := range []string{"set", "mget", "del"} {
		if !strings.Contains(body, `store_operation_duration_seconds_bucket{op="`+op+`"`) {
			t.Fatalf("missing store_operation_duration_seconds for %s; got:\n%s", op, body)
		}
	}
}

func TestPing_FailsAfterServerCloses(t *testing.T) {
	c, mr := newMini(t)
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	mr.Close()
	if err := c.Ping(ctx); err == nil {
		t.Fatalf("expected ping error after server shutdown")
	}
}
