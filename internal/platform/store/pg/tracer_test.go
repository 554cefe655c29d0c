package pg

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestCompactAndVerb(t *testing.T) {
	t.Parallel()
	got := compact("select  *\n\tfrom   query_jobs\r\nwhere id = $1")
	if got != "select * from query_jobs where id = $1" {
		t.Fatalf("compact = %q", got)
	}
	for sql, want := range map[string]string{
		"\n  INSERT INTO query_matches": "insert",
		"WITH m AS (select 1)":         "with",
		"   ":                          "unknown",
	} {
		if v := Verb(sql); v != want {
			t.Fatalf("Verb(%q) = %q, want %q", sql, v, want)
		}
	}
}

func TestTracerLogsSlowAsWarn(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	root := zerolog.New(&buf).Level(zerolog.ErrorLevel)

	tr := Tracer(root)
	tr.OnQuery(context.Background(), QueryEvent{SQL: "select 1", Elapsed: 1500 * time.Microsecond})
	tr.OnQuery(context.Background(), QueryEvent{SQL: "select\n2", Slow: true, InTx: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 lines got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"level":"info"`) || !strings.Contains(lines[0], `"elapsed_ms":1.5`) {
		t.Fatalf("first line = %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"warn"`) || !strings.Contains(lines[1], `"sql":"select 2"`) || !strings.Contains(lines[1], `"tx":true`) {
		t.Fatalf("second line = %s", lines[1])
	}
}

func TestLogArgsSummarisesBatches(t *testing.T) {
	t.Parallel()
	files := make([]string, 20)
	got := logArgs([]any{"job-1", files, []string{"a"}, []byte("raw")})
	want := []string{"job-1", "[20 items]", "[a]", "[114 97 119]"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("logArgs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestObserveRecordsSeries(t *testing.T) {
	Observe(QueryEvent{SQL: "DELETE FROM query_jobs", Elapsed: time.Millisecond, Err: errors.New("boom")})
	Observe(QueryEvent{SQL: "select 1", Elapsed: time.Millisecond})
	if n := testutil.CollectAndCount(queryDuration, "mquery_pg_query_seconds"); n < 2 {
		t.Fatalf("series = %d, want at least delete/error and select/ok", n)
	}
}

func TestOpenBadURL(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{URL: "::not a url"}, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
