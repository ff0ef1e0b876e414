package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// DefaultBatchSize is the number of rows sent per BulkLoad call.
const DefaultBatchSize = 5000

// BulkLoader is the slice of gateway.Gateway the loader needs.
type BulkLoader interface {
	BulkLoad(ctx context.Context, table string, columns []string, rows [][]any, mode gateway.LoadMode) (int64, error)
}

// Loader copies rows from a Reader into a staging table in batches.
type Loader struct {
	BatchSize int
	// Mode applies to the first batch; later batches always append.
	Mode   gateway.LoadMode
	Logger *slog.Logger
}

// LoadResult summarises a completed load.
type LoadResult struct {
	Table    string
	Rows     int64
	Batches  int
	Checksum string
	Duration time.Duration
}

// Load drains r into table. In replace mode the table is cleared even when the
// source has no data rows.
func (l *Loader) Load(ctx context.Context, dst BulkLoader, table string, r *Reader) (LoadResult, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := l.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	mode := l.Mode
	if mode == "" {
		mode = gateway.LoadModeReplace
	}
	if !mode.Valid() {
		return LoadResult{}, fmt.Errorf("invalid load mode %q", mode)
	}

	start := time.Now()
	res := LoadResult{Table: table}
	batch := make([][]any, 0, size)

	flush := func() error {
		if len(batch) == 0 && (res.Batches > 0 || mode == gateway.LoadModeAppend) {
			return nil
		}
		n, err := dst.BulkLoad(ctx, table, r.Columns(), batch, mode)
		if err != nil {
			return fmt.Errorf("batch %d: %w", res.Batches+1, err)
		}
		res.Rows += n
		res.Batches++
		mode = gateway.LoadModeAppend
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		batch = append(batch, row)
		if len(batch) == size {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	res.Checksum = r.Checksum()
	res.Duration = time.Since(start)
	logger.Info(fmt.Sprintf("Loaded %d rows into %s", res.Rows, table),
		slog.String("table", table),
		slog.Int64("rows", res.Rows),
		slog.Int("batches", res.Batches),
		slog.String("checksum", res.Checksum),
		slog.Duration("duration", res.Duration))
	return res, nil
}
