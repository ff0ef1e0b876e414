package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapgate/internal/testutil"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loadCall struct {
	rows int
	mode gateway.LoadMode
}

type fakeLoader struct {
	calls []loadCall
	rows  [][]any
	err   error
}

func (f *fakeLoader) BulkLoad(_ context.Context, _ string, _ []string, rows [][]any, mode gateway.LoadMode) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.calls = append(f.calls, loadCall{rows: len(rows), mode: mode})
	for _, r := range rows {
		f.rows = append(f.rows, append([]any(nil), r...))
	}
	return int64(len(rows)), nil
}

func csvWithRows(n int) string {
	var b strings.Builder
	b.WriteString("event_time,user_id,platform\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "2025-06-01 10:00:00.000000,u_%04d,ios\n", i)
	}
	return b.String()
}

func TestLoader_Batches(t *testing.T) {
	r, err := open(t, csvWithRows(7), Options{})
	require.NoError(t, err)

	dst := &fakeLoader{}
	l := &Loader{BatchSize: 3, Logger: testutil.NewTestLogger(t)}
	res, err := l.Load(context.Background(), dst, "stg", r)
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.Rows)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, []loadCall{
		{rows: 3, mode: gateway.LoadModeReplace},
		{rows: 3, mode: gateway.LoadModeAppend},
		{rows: 1, mode: gateway.LoadModeAppend},
	}, dst.calls)
	assert.Equal(t, "u_0006", dst.rows[6][1])
	assert.NotEmpty(t, res.Checksum)
}

func TestLoader_ExactMultiple(t *testing.T) {
	r, err := open(t, csvWithRows(4), Options{})
	require.NoError(t, err)

	dst := &fakeLoader{}
	res, err := (&Loader{BatchSize: 2}).Load(context.Background(), dst, "stg", r)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batches, "no trailing empty batch")
	assert.Len(t, dst.calls, 2)
}

func TestLoader_EmptySourceStillReplaces(t *testing.T) {
	r, err := open(t, csvWithRows(0), Options{})
	require.NoError(t, err)

	dst := &fakeLoader{}
	res, err := (&Loader{}).Load(context.Background(), dst, "stg", r)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Rows)
	assert.Equal(t, []loadCall{{rows: 0, mode: gateway.LoadModeReplace}}, dst.calls)

	r, err = open(t, csvWithRows(0), Options{})
	require.NoError(t, err)
	dst = &fakeLoader{}
	_, err = (&Loader{Mode: gateway.LoadModeAppend}).Load(context.Background(), dst, "stg", r)
	require.NoError(t, err)
	assert.Empty(t, dst.calls)
}

func TestLoader_Errors(t *testing.T) {
	r, err := open(t, csvWithRows(2), Options{})
	require.NoError(t, err)
	_, err = (&Loader{}).Load(context.Background(), &fakeLoader{err: errors.New("disk full")}, "stg", r)
	assert.ErrorContains(t, err, "batch 1: disk full")

	r, err = open(t, csvWithRows(2), Options{})
	require.NoError(t, err)
	_, err = (&Loader{Mode: "upsert"}).Load(context.Background(), &fakeLoader{}, "stg", r)
	assert.ErrorContains(t, err, "invalid load mode")

	r, err = open(t, csvWithRows(2), Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&Loader{}).Load(ctx, &fakeLoader{}, "stg", r)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("raw_data/event_stream.csv")
	require.NoError(t, err)
	assert.False(t, loc.IsRemote())
	assert.Equal(t, "raw_data/event_stream.csv", loc.String())

	loc, err = ParseLocation("s3://landing/raw/2025/06/event_stream.csv")
	require.NoError(t, err)
	assert.True(t, loc.IsRemote())
	assert.Equal(t, "landing", loc.Bucket)
	assert.Equal(t, "raw/2025/06/event_stream.csv", loc.Key)
	assert.Equal(t, "s3://landing/raw/2025/06/event_stream.csv", loc.String())

	for _, bad := range []string{"", "s3://bucket-only", "s3:///key"} {
		_, err := ParseLocation(bad)
		assert.True(t, core.IsConfiguration(err), bad)
	}
}

func TestFileOpener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, os.WriteFile(path, []byte(csvWithRows(1)), 0o600))

	rc, err := Router{}.Open(context.Background(), Location{Path: path})
	require.NoError(t, err)
	r, err := NewReader(rc, Options{Columns: declared})
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, readAll(t, r), 1)

	_, err = FileOpener{}.Open(context.Background(), Location{Path: filepath.Join(t.TempDir(), "missing.csv")})
	assert.True(t, core.IsConfiguration(err))

	_, err = Router{}.Open(context.Background(), Location{Bucket: "b", Key: "k"})
	assert.True(t, core.IsConfiguration(err))
}

func TestNewS3Opener(t *testing.T) {
	_, err := NewS3Opener(S3Config{Endpoint: "https://minio:9000"})
	assert.True(t, core.IsConfiguration(err))

	t.Setenv("LEAPGATE_TEST_AK", "access")
	t.Setenv("LEAPGATE_TEST_SK", "secret")
	o, err := NewS3Opener(S3Config{Endpoint: "localhost:9000", AccessKeyEnv: "LEAPGATE_TEST_AK", SecretKeyEnv: "LEAPGATE_TEST_SK"})
	require.NoError(t, err)
	assert.NotNil(t, o)
}
