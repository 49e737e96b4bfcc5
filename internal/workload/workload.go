// Package workload generates async-insert write load: batches of
// (a UInt64, b Array(UInt64)) rows inserted sequentially or from a bounded
// pool of workers.
package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mrk-andreev/chprobe/internal/chclient"
	"github.com/mrk-andreev/chprobe/internal/ir"
)

// Range is an inclusive integer range.
type Range struct {
	Min, Max int
}

// DefaultSettings are the insert settings used when none are configured.
func DefaultSettings() ir.Settings {
	return ir.NewSettings(
		ir.S("async_insert", ir.Int(1)),
		ir.S("wait_for_async_insert", ir.Int(1)),
	)
}

// Config describes one workload.
type Config struct {
	Table    string
	Settings ir.Settings
	// MaxValues bounds the rows per insert, and the width of each batch's
	// value range. Default 1000.
	MaxValues int
	// ArraySize bounds the length of column b. Default [10, 50].
	ArraySize Range
	Seed      uint64
	Logger    *slog.Logger
}

func (c Config) withDefaults() (Config, error) {
	if !ir.ValidName(strings.ReplaceAll(c.Table, ".", "_")) {
		return c, fmt.Errorf("workload: invalid table name %q", c.Table)
	}
	if c.Settings == nil {
		c.Settings = DefaultSettings()
	}
	if err := c.Settings.Validate(); err != nil {
		return c, fmt.Errorf("workload: %w", err)
	}
	if c.MaxValues <= 0 {
		c.MaxValues = 1000
	}
	if c.ArraySize == (Range{}) {
		c.ArraySize = Range{Min: 10, Max: 50}
	}
	if c.ArraySize.Min < 0 || c.ArraySize.Min > c.ArraySize.Max {
		return c, fmt.Errorf("workload: invalid array size range [%d, %d]", c.ArraySize.Min, c.ArraySize.Max)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// Querier runs one statement.
type Querier interface {
	Query(ctx context.Context, sql string, opts chclient.QueryOptions) (string, error)
}

// Stats counts what was inserted.
type Stats struct {
	Inserts int
	Rows    int
}

// Row is one generated row.
type Row struct {
	A uint64
	B []uint64
}

// Generator produces rows from a seeded PRNG. It is not safe for
// concurrent use.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator. The same seed yields the same rows.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// between returns a value in [lo, hi].
func (g *Generator) between(lo, hi uint64) uint64 {
	return lo + g.rng.Uint64N(hi-lo+1)
}

// Rows generates n rows whose values all lie in [lo, hi] and whose arrays
// have a length within size.
func (g *Generator) Rows(n int, lo, hi uint64, size Range) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i].A = g.between(lo, hi)
		rows[i].B = make([]uint64, g.between(uint64(size.Min), uint64(size.Max)))
		for j := range rows[i].B {
			rows[i].B[j] = g.between(lo, hi)
		}
	}
	return rows
}

// RenderInsert builds the INSERT statement for rows.
func RenderInsert(table string, settings ir.Settings, rows []Row) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	if len(settings) > 0 {
		b.WriteString(" SETTINGS ")
		for i, s := range settings {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.String())
		}
	}
	b.WriteString(" VALUES ")
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		b.WriteString(strconv.FormatUint(r.A, 10))
		b.WriteString(", [")
		for j, v := range r.B {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.FormatUint(v, 10))
		}
		b.WriteString("])")
	}
	return b.String()
}

// batch is one planned insert.
type batch struct {
	size   int
	lo, hi uint64
	seed   uint64
}

func plan(cfg Config, rng *Generator, n int) []batch {
	batches := make([]batch, n)
	width := uint64(cfg.MaxValues)
	for i := range batches {
		batches[i] = batch{
			size: int(rng.between(1, width)),
			lo:   uint64(i) * width,
			hi:   uint64(i+1)*width - 1,
			seed: rng.rng.Uint64(),
		}
	}
	return batches
}

func insert(ctx context.Context, q Querier, cfg Config, b batch) (int, error) {
	rows := NewGenerator(b.seed).Rows(b.size, b.lo, b.hi, cfg.ArraySize)
	if _, err := q.Query(ctx, RenderInsert(cfg.Table, cfg.Settings, rows), chclient.QueryOptions{}); err != nil {
		return 0, fmt.Errorf("insert into %s [%d, %d]: %w", cfg.Table, b.lo, b.hi, err)
	}
	cfg.Logger.Debug("inserted", "table", cfg.Table, "rows", len(rows), "range_start", b.lo)
	return len(rows), nil
}

// Sequential runs iterations inserts one after another. Insert i holds
// between 1 and MaxValues rows with values in [i*MaxValues, (i+1)*MaxValues-1].
func Sequential(ctx context.Context, q Querier, cfg Config, iterations int) (Stats, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return Stats{}, err
	}
	if iterations <= 0 {
		return Stats{}, errors.New("workload: iterations must be positive")
	}

	var st Stats
	for _, b := range plan(cfg, NewGenerator(cfg.Seed), iterations) {
		n, err := insert(ctx, q, cfg, b)
		if err != nil {
			return st, err
		}
		st.Inserts++
		st.Rows += n
	}
	return st, nil
}

// Parallel runs tasks inserts on at most threads concurrent workers. Tasks
// are not ordered relative to each other. Every task runs; the first error
// is returned once all have finished.
func Parallel(ctx context.Context, q Querier, cfg Config, threads, tasks int) (Stats, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return Stats{}, err
	}
	if threads <= 0 || tasks <= 0 {
		return Stats{}, errors.New("workload: threads and tasks must be positive")
	}

	var (
		g       errgroup.Group
		inserts atomic.Int64
		rows    atomic.Int64
	)
	g.SetLimit(threads)
	for _, b := range plan(cfg, NewGenerator(cfg.Seed), tasks) {
		g.Go(func() error {
			n, err := insert(ctx, q, cfg, b)
			if err != nil {
				return err
			}
			inserts.Add(1)
			rows.Add(int64(n))
			return nil
		})
	}
	err = g.Wait()
	return Stats{Inserts: int(inserts.Load()), Rows: int(rows.Load())}, err
}
