package idgen

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_AllStrategies(t *testing.T) {
	strategies := []string{
		StrategyUUID, StrategyULID, StrategyKSUID,
		StrategySnowflake, StrategyNanoID, StrategyCUID2,
	}

	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			req := require.New(t)
			cfg := DefaultConfig()
			cfg.Strategy = strategy

			gen, err := New(cfg)
			req.NoError(err)

			seen := make(map[string]struct{})
			for i := 0; i < 200; i++ {
				id, err := gen.Generate()
				req.NoError(err)
				req.NotEmpty(id)
				req.NoError(gen.Validate(id))
				_, dup := seen[id]
				req.False(dup, "duplicate id %s", id)
				seen[id] = struct{}{}
			}
		})
	}
}

func TestNew_UnknownStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = "sequence"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestValidate_RejectsForeignIDs(t *testing.T) {
	req := require.New(t)

	req.Error(NewUUIDGenerator().Validate("not-a-uuid"))
	req.Error(NewUUIDGenerator().Validate("6ba7b810-9dad-41d1-80b4-00c04fd430c8"))
	req.Error(NewULIDGenerator().Validate("short"))
	req.Error(NewKSUIDGenerator().Validate("short"))

	nano, err := NewNanoIDGenerator(4, "ab")
	req.NoError(err)
	req.NoError(nano.Validate("abba"))
	req.Error(nano.Validate("abc1"))
}

func TestConstructorBounds(t *testing.T) {
	req := require.New(t)

	_, err := NewSnowflakeGenerator(-1, DefaultSnowflakeEpoch)
	req.Error(err)
	_, err = NewSnowflakeGenerator(1024, DefaultSnowflakeEpoch)
	req.Error(err)
	_, err = NewNanoIDGenerator(0, DefaultNanoIDAlphabet)
	req.Error(err)
	_, err = NewNanoIDGenerator(10, "a")
	req.Error(err)
	_, err = NewCUID2Generator(1)
	req.Error(err)
	_, err = NewCUID2Generator(33)
	req.Error(err)
}

func TestSnowflake_MonotonicAndConcurrent(t *testing.T) {
	req := require.New(t)
	gen, err := NewSnowflakeGenerator(7, DefaultSnowflakeEpoch)
	req.NoError(err)

	var (
		mu  sync.Mutex
		ids = make(map[string]struct{})
		wg  sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id, err := gen.Generate()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	req.Len(ids, 4000)

	a, err := gen.Generate()
	req.NoError(err)
	b, err := gen.Generate()
	req.NoError(err)
	na, _ := strconv.ParseInt(a, 10, 64)
	nb, _ := strconv.ParseInt(b, 10, 64)
	req.Less(na, nb)
}

func TestSnowflake_ClockBackwards(t *testing.T) {
	req := require.New(t)
	gen, err := NewSnowflakeGenerator(1, DefaultSnowflakeEpoch)
	req.NoError(err)

	now := time.Now().UnixMilli()
	gen.nowMs = func() int64 { return now }
	id, err := gen.Generate()
	req.NoError(err)

	n, err := strconv.ParseInt(id, 10, 64)
	req.NoError(err)
	req.Equal(now, n>>timestampShift+DefaultSnowflakeEpoch)

	gen.nowMs = func() int64 { return now - 10 }
	_, err = gen.Generate()
	req.Error(err)
}
