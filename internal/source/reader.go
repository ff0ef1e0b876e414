// Package source streams raw rows from a delimited text file into staging.
//
// Every field is read as text; type coercion happens only at promotion time.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/zeebo/xxh3"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultEncoding is used when Options.Encoding is empty.
const DefaultEncoding = "utf-8"

// Options controls how a source is decoded.
type Options struct {
	// Columns are the declared staging columns. The header must contain
	// exactly these names, in any order.
	Columns []string
	// Delimiter separates fields. Zero means ','.
	Delimiter rune
	// Encoding is a WHATWG encoding label ("utf-8", "windows-1252", ...).
	Encoding string
	// EmptyAsNull loads empty fields as NULL instead of "".
	EmptyAsNull bool
}

// Reader yields rows in declared column order.
type Reader struct {
	csv         *csv.Reader
	closer      io.Closer
	hash        *xxh3.Hasher
	perm        []int // perm[i] is the file position of Columns[i]
	columns     []string
	emptyAsNull bool
	line        int
}

// NewReader reads and validates the header from rc. The Reader owns rc.
func NewReader(rc io.ReadCloser, opts Options) (*Reader, error) {
	label := opts.Encoding
	if label == "" {
		label = DefaultEncoding
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		_ = rc.Close()
		return nil, &core.ConfigurationError{Field: "source.encoding", Reason: fmt.Sprintf("unknown encoding %q", label), Err: err}
	}

	h := xxh3.New()
	decoded := transform.NewReader(io.TeeReader(rc, h), unicode.BOMOverride(enc.NewDecoder()))

	cr := csv.NewReader(decoded)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}

	r := &Reader{
		csv:         cr,
		closer:      rc,
		hash:        h,
		columns:     opts.Columns,
		emptyAsNull: opts.EmptyAsNull,
	}

	header, err := cr.Read()
	if err != nil {
		_ = rc.Close()
		if errors.Is(err, io.EOF) {
			return nil, core.NewConfigurationError("source.path", "source is empty, expected a header row")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	r.line = 1

	perm, err := matchHeader(header, opts.Columns)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	r.perm = perm
	return r, nil
}

// matchHeader maps declared columns to header positions.
func matchHeader(header, declared []string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if _, dup := pos[h]; dup {
			return nil, core.NewConfigurationError("source.path", "duplicate header column %q", h)
		}
		pos[h] = i
	}

	var missing, extra []string
	perm := make([]int, len(declared))
	want := make(map[string]bool, len(declared))
	for i, col := range declared {
		want[col] = true
		p, ok := pos[col]
		if !ok {
			missing = append(missing, col)
			continue
		}
		perm[i] = p
	}
	for _, h := range header {
		if !want[strings.TrimSpace(h)] {
			extra = append(extra, strings.TrimSpace(h))
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		var parts []string
		if len(missing) > 0 {
			parts = append(parts, "missing "+strings.Join(missing, ", "))
		}
		if len(extra) > 0 {
			parts = append(parts, "unexpected "+strings.Join(extra, ", "))
		}
		return nil, core.NewConfigurationError("source.path",
			"header does not match declared staging columns: %s", strings.Join(parts, "; "))
	}
	return perm, nil
}

// Columns returns the declared column order used by Next.
func (r *Reader) Columns() []string {
	return r.columns
}

// Next returns the next row, or io.EOF when the source is exhausted.
func (r *Reader) Next() ([]any, error) {
	rec, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read row %d: %w", r.line+1, err)
	}
	r.line++

	row := make([]any, len(r.perm))
	for i, p := range r.perm {
		v := rec[p]
		if v == "" && r.emptyAsNull {
			row[i] = nil
			continue
		}
		row[i] = v
	}
	return row, nil
}

// Rows returns the number of data rows read so far.
func (r *Reader) Rows() int64 {
	return int64(max(r.line-1, 0))
}

// Checksum returns the xxh3 digest of the raw bytes consumed so far. After
// Next returned io.EOF it identifies the whole source.
func (r *Reader) Checksum() string {
	return fmt.Sprintf("%016x", r.hash.Sum64())
}

// Close releases the underlying stream.
func (r *Reader) Close() error {
	return r.closer.Close()
}
