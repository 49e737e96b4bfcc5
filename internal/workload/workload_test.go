package workload

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mrk-andreev/chprobe/internal/chclient"
	"github.com/mrk-andreev/chprobe/internal/cluster"
	"github.com/mrk-andreev/chprobe/internal/ir"
	"github.com/mrk-andreev/chprobe/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGeneratorDeterministic(t *testing.T) {
	a := NewGenerator(42).Rows(20, 1000, 1999, Range{Min: 10, Max: 15})
	b := NewGenerator(42).Rows(20, 1000, 1999, Range{Min: 10, Max: 15})
	assert.Equal(t, a, b)

	c := NewGenerator(43).Rows(20, 1000, 1999, Range{Min: 10, Max: 15})
	assert.NotEqual(t, a, c)
}

func TestGeneratorBounds(t *testing.T) {
	rows := NewGenerator(7).Rows(500, 3000, 3999, Range{Min: 10, Max: 50})
	require.Len(t, rows, 500)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.A, uint64(3000))
		assert.LessOrEqual(t, r.A, uint64(3999))
		assert.GreaterOrEqual(t, len(r.B), 10)
		assert.LessOrEqual(t, len(r.B), 50)
		for _, v := range r.B {
			assert.GreaterOrEqual(t, v, uint64(3000))
			assert.LessOrEqual(t, v, uint64(3999))
		}
	}
}

func TestRenderInsert(t *testing.T) {
	rows := []Row{{A: 1, B: []uint64{2, 3}}, {A: 4, B: nil}}

	assert.Equal(t,
		"INSERT INTO t SETTINGS async_insert=1, wait_for_async_insert=1 VALUES (1, [2, 3]), (4, [])",
		RenderInsert("t", DefaultSettings(), rows))
	assert.Equal(t, "INSERT INTO t VALUES (1, [2, 3]), (4, [])", RenderInsert("t", nil, rows))
}

func newTable(t *testing.T, name string) *testutil.FakeServer {
	t.Helper()
	srv := testutil.NewReferenceServer()
	_, err := srv.Query(context.Background(),
		"CREATE TABLE "+name+" (a UInt64, b Array(UInt64)) ENGINE=MergeTree() ORDER BY a", cluster.QueryOptions{})
	require.NoError(t, err)
	return srv
}

func TestSequential(t *testing.T) {
	srv := newTable(t, "async_insert_mt_table")

	st, err := Sequential(context.Background(), srv, Config{Table: "async_insert_mt_table", Seed: 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Inserts)
	assert.Equal(t, st.Rows, srv.Rows("async_insert_mt_table"))
	assert.GreaterOrEqual(t, st.Rows, 10)
	assert.LessOrEqual(t, st.Rows, 10*1000)

	for _, q := range srv.Queries()[1:] {
		assert.True(t, strings.HasPrefix(q, "INSERT INTO async_insert_mt_table SETTINGS async_insert=1, wait_for_async_insert=1 VALUES ("), q)
	}
}

func TestSequentialStopsAtFirstError(t *testing.T) {
	srv := testutil.NewReferenceServer()

	st, err := Sequential(context.Background(), srv, Config{Table: "missing", Seed: 1}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	assert.Equal(t, 0, st.Inserts)
	assert.Len(t, srv.Queries(), 1)
}

func TestParallel(t *testing.T) {
	srv := newTable(t, "async_insert_mt_multithread_table")
	cfg := Config{Table: "async_insert_mt_multithread_table", ArraySize: Range{Min: 10, Max: 15}, Seed: 9}

	st, err := Parallel(context.Background(), srv, cfg, 15, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, st.Inserts)
	assert.Equal(t, st.Rows, srv.Rows("async_insert_mt_multithread_table"))
}

// gauge records the peak number of concurrent queries.
type gauge struct {
	cur, peak atomic.Int64
	calls     atomic.Int64
	fail      func(sql string) error
}

func (g *gauge) Query(_ context.Context, sql string, _ chclient.QueryOptions) (string, error) {
	g.calls.Add(1)
	n := g.cur.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	g.cur.Add(-1)
	if g.fail != nil {
		return "", g.fail(sql)
	}
	return "", nil
}

func TestParallelBoundsConcurrency(t *testing.T) {
	g := &gauge{}

	_, err := Parallel(context.Background(), g, Config{Table: "t", MaxValues: 10, ArraySize: Range{Min: 1, Max: 2}}, 4, 40)
	require.NoError(t, err)
	assert.Equal(t, int64(40), g.calls.Load())
	assert.LessOrEqual(t, g.peak.Load(), int64(4))
}

func TestParallelRunsEveryTaskAndReportsError(t *testing.T) {
	boom := errors.New("too many parts")
	var once sync.Once
	g := &gauge{fail: func(string) error {
		var err error
		once.Do(func() { err = boom })
		return err
	}}

	st, err := Parallel(context.Background(), g, Config{Table: "t", MaxValues: 10}, 3, 12)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(12), g.calls.Load())
	assert.Equal(t, 11, st.Inserts)
}

func TestConfigValidation(t *testing.T) {
	ctx := context.Background()
	g := &gauge{}

	_, err := Sequential(ctx, g, Config{Table: "bad table"}, 1)
	assert.Error(t, err)
	_, err = Sequential(ctx, g, Config{Table: "t"}, 0)
	assert.Error(t, err)
	_, err = Parallel(ctx, g, Config{Table: "t"}, 0, 1)
	assert.Error(t, err)
	_, err = Sequential(ctx, g, Config{Table: "t", ArraySize: Range{Min: 5, Max: 1}}, 1)
	assert.Error(t, err)
	_, err = Sequential(ctx, g, Config{Table: "t", Settings: ir.Settings{{Name: "x y", Value: ir.Int(1)}}}, 1)
	assert.Error(t, err)
	assert.Zero(t, g.calls.Load())
}
