package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestNewKey(t *testing.T) {
	if got := NewKey("abc", "").String(); got != "abc#all" {
		t.Errorf("NewKey(abc, \"\") = %q", got)
	}
	if got := NewKey("abc", "Sneakers").String(); got != "abc#shoes" {
		t.Errorf("NewKey(abc, Sneakers) = %q", got)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(4)
	c.now = clk.now
	ctx := context.Background()
	key := NewKey("h1", "watches")

	c.Set(ctx, key, []byte("v1"), clk.t.Add(time.Hour))
	v, exp, ok := c.Get(ctx, key)
	if !ok || string(v) != "v1" || !exp.Equal(clk.t.Add(time.Hour)) {
		t.Fatalf("Get = %q, %v, %v", v, exp, ok)
	}

	clk.t = clk.t.Add(time.Hour)
	if _, _, ok := c.Get(ctx, key); ok {
		t.Error("entry should be expired at its expiry instant")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after expired read, want 0", c.Len())
	}

	c.Set(ctx, key, []byte("stale"), clk.t.Add(-time.Second))
	if c.Len() != 0 {
		t.Error("Set stored an already expired entry")
	}
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	a, b, d := NewKey("a", "all"), NewKey("b", "all"), NewKey("d", "all")
	c.Set(ctx, a, []byte("a"), exp)
	c.Set(ctx, b, []byte("b"), exp)
	c.Get(ctx, a) // a is now most recent
	c.Set(ctx, d, []byte("d"), exp)

	if _, _, ok := c.Get(ctx, b); ok {
		t.Error("b should have been evicted")
	}
	if _, _, ok := c.Get(ctx, a); !ok {
		t.Error("a should still be cached")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestMemoryCache_ValuesAreCopied(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()
	key := NewKey("a", "all")
	buf := []byte("original")
	c.Set(ctx, key, buf, time.Now().Add(time.Hour))
	buf[0] = 'X'

	v, _, _ := c.Get(ctx, key)
	if string(v) != "original" {
		t.Errorf("cached value aliased caller buffer: %q", v)
	}
	v[0] = 'Y'
	v2, _, _ := c.Get(ctx, key)
	if string(v2) != "original" {
		t.Errorf("cached value aliased returned buffer: %q", v2)
	}
}

func TestMemoryCache_ConcurrentWritesStayWhole(t *testing.T) {
	c := NewMemoryCache(8)
	ctx := context.Background()
	key := NewKey("same", "watches")
	exp := time.Now().Add(time.Hour)

	values := [][]byte{bytes.Repeat([]byte("a"), 512), bytes.Repeat([]byte("b"), 512)}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Set(ctx, key, values[i%2], exp)
		}(i)
		go func() {
			defer wg.Done()
			if v, _, ok := c.Get(ctx, key); ok && !bytes.Equal(v, values[0]) && !bytes.Equal(v, values[1]) {
				t.Error("read a torn value")
			}
		}()
	}
	wg.Wait()
}

// fakeDynamo stores items by PK and can be told to fail.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[pk]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pk := in.Item["PK"].(*types.AttributeValueMemberS).Value
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoCache_RoundTrip(t *testing.T) {
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	c := NewDynamoCache(fake, "cache")
	clk := &clock{t: time.Unix(1_800_000_000, 0)}
	c.now = clk.now
	ctx := context.Background()
	key := NewKey("h1", "watches")
	value := []byte(`{"decision":"auto_selected","bestScore":0.91}`)

	c.Set(ctx, key, value, clk.t.Add(24*time.Hour))

	stored := fake.items["RESULT#h1#watches"]
	payload := stored["payload"].(*types.AttributeValueMemberB).Value
	if bytes.Equal(payload, value) {
		t.Error("payload stored uncompressed")
	}

	got, exp, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("Get missed")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get = %s, want %s", got, value)
	}
	if !exp.Equal(clk.t.Add(24 * time.Hour)) {
		t.Errorf("expiry = %v", exp)
	}

	clk.t = clk.t.Add(25 * time.Hour)
	if _, _, ok := c.Get(ctx, key); ok {
		t.Error("expired row returned")
	}
}

func TestDynamoCache_ErrorsAreMisses(t *testing.T) {
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}, err: errors.New("throttled")}
	c := NewDynamoCache(fake, "cache")
	ctx := context.Background()
	key := NewKey("h1", "all")

	c.Set(ctx, key, []byte("x"), time.Now().Add(time.Hour))
	if _, _, ok := c.Get(ctx, key); ok {
		t.Error("Get hit despite client error")
	}
}

func TestTiered_PromotesSharedHits(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryCache(4)
	shared := NewMemoryCache(4)
	tiered := &Tiered{Local: local, Shared: shared}
	key := NewKey("h", "shoes")
	exp := time.Now().Add(time.Hour)

	shared.Set(ctx, key, []byte("v"), exp)
	v, gotExp, ok := tiered.Get(ctx, key)
	if !ok || string(v) != "v" || !gotExp.Equal(exp) {
		t.Fatalf("Get = %q, %v, %v", v, gotExp, ok)
	}
	if _, _, ok := local.Get(ctx, key); !ok {
		t.Error("shared hit not copied to local")
	}

	tiered.Set(ctx, NewKey("h2", "shoes"), []byte("w"), exp)
	for name, c := range map[string]ResultCache{"local": local, "shared": shared} {
		if _, _, ok := c.Get(ctx, NewKey("h2", "shoes")); !ok {
			t.Errorf("%s missing write-through entry", name)
		}
	}
}
