package lock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestLocalLockerExcludesConcurrentHolders(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "payment:bingo-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got ok=%v err=%v", ok, err)
	}

	if _, ok, _ := locker.Acquire(ctx, "payment:bingo-1", time.Minute); ok {
		t.Fatalf("expected second acquire to be refused while held")
	}

	if _, ok, _ := locker.Acquire(ctx, "payment:bingo-2", time.Minute); !ok {
		t.Fatalf("expected other keys to be independent")
	}

	release()
	release()

	if _, ok, _ := locker.Acquire(ctx, "payment:bingo-1", time.Minute); !ok {
		t.Fatalf("expected acquire after release to succeed")
	}
}

func TestLocalLockerExpiresStaleLocks(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	locker.clock = func() time.Time { return now }

	staleRelease, ok, _ := locker.Acquire(context.Background(), "k", time.Second)
	if !ok {
		t.Fatalf("expected acquire to succeed")
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := locker.Acquire(context.Background(), "k", time.Second); !ok {
		t.Fatalf("expected expired lock to be taken over")
	}

	staleRelease()
	if _, ok, _ := locker.Acquire(context.Background(), "k", time.Second); ok {
		t.Fatalf("expected stale release to leave the new holder in place")
	}
}

func TestLocalLockerValidatesInput(t *testing.T) {
	locker := NewLocalLocker()
	if _, _, err := locker.Acquire(nil, "k", time.Second); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if _, _, err := locker.Acquire(context.Background(), " ", time.Second); err == nil {
		t.Fatalf("expected error for blank key")
	}
}

func TestRedisLockerAcquireAndRelease(t *testing.T) {
	fake := &fakeRedis{setNXResult: true}
	locker := NewRedisLocker(fake, nil)

	release, ok, err := locker.Acquire(context.Background(), "payment:bingo-1", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected lock to be acquired, got ok=%v err=%v", ok, err)
	}

	if fake.setKey != "bingo:lock:payment:bingo-1" {
		t.Fatalf("expected prefixed key, got %s", fake.setKey)
	}
	if fake.setTTL != 30*time.Second {
		t.Fatalf("expected ttl 30s, got %v", fake.setTTL)
	}

	release()

	if len(fake.evalKeys) != 1 || fake.evalKeys[0] != fake.setKey {
		t.Fatalf("expected release script on %s, got %v", fake.setKey, fake.evalKeys)
	}
	if len(fake.evalArgs) != 1 || fake.evalArgs[0] != fake.setValue {
		t.Fatalf("expected release to pass the lock token, got %v", fake.evalArgs)
	}
}

func TestRedisLockerReportsBusyAndErrors(t *testing.T) {
	busy := NewRedisLocker(&fakeRedis{setNXResult: false}, nil)
	if _, ok, err := busy.Acquire(context.Background(), "k", time.Second); ok || err != nil {
		t.Fatalf("expected busy lock to return ok=false without error, got ok=%v err=%v", ok, err)
	}

	errRedis := errors.New("connection refused")
	broken := NewRedisLocker(&fakeRedis{setNXErr: errRedis}, nil)
	if _, _, err := broken.Acquire(context.Background(), "k", time.Second); !errors.Is(err, errRedis) {
		t.Fatalf("expected wrapped redis error, got %v", err)
	}
}

func TestRedisLockerLogsReleaseFailure(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	fake := &fakeRedis{setNXResult: true, evalErr: errors.New("redis down")}
	locker := NewRedisLocker(fake, logrus.NewEntry(hookLogger))

	release, _, _ := locker.Acquire(context.Background(), "k", time.Second)
	release()

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "lock_release_error" {
		t.Fatalf("expected lock_release_error log, got %v", entry)
	}
}

func TestOpenRedisPingsAndClosesOnFailure(t *testing.T) {
	fake := &fakeRedis{pingErr: errors.New("no route")}
	prev := newRedisClient
	newRedisClient = func(opts *redis.Options) redisClient {
		if opts.Addr != "cache:6379" {
			t.Fatalf("expected parsed addr cache:6379, got %s", opts.Addr)
		}
		return fake
	}
	t.Cleanup(func() { newRedisClient = prev })

	if _, err := OpenRedis(context.Background(), "redis://cache:6379/0", nil); err == nil {
		t.Fatalf("expected ping failure")
	}
	if !fake.closed {
		t.Fatalf("expected client to be closed after ping failure")
	}

	if _, err := OpenRedis(context.Background(), "::bad", nil); err == nil || !strings.Contains(err.Error(), "parse redis url") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

type fakeRedis struct {
	redis.Scripter

	setNXResult bool
	setNXErr    error
	setKey      string
	setValue    interface{}
	setTTL      time.Duration
	evalKeys    []string
	evalArgs    []interface{}
	evalErr     error
	pingErr     error
	closed      bool
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.setKey = key
	f.setValue = value
	f.setTTL = expiration
	return redis.NewBoolResult(f.setNXResult, f.setNXErr)
}

func (f *fakeRedis) EvalSha(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, "", keys, args...)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.evalKeys = keys
	f.evalArgs = args
	return redis.NewCmdResult(int64(1), f.evalErr)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}
