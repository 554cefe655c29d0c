package pg

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"mquery/internal/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// QueryEvent describes one finished statement
type QueryEvent struct {
	SQL     string
	Args    []any
	Elapsed time.Duration
	Err     error
	Slow    bool
	InTx    bool
}

// QueryTracer receives query events
type QueryTracer interface {
	OnQuery(ctx context.Context, ev QueryEvent)
}

var queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "mquery_pg_query_seconds",
	Help:    "Job store statement latency by verb and outcome.",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
}, []string{"verb", "outcome"})

// Observe records ev in the statement latency histogram
func Observe(ev QueryEvent) {
	outcome := "ok"
	if ev.Err != nil {
		outcome = "error"
	}
	queryDuration.WithLabelValues(Verb(ev.SQL), outcome).Observe(ev.Elapsed.Seconds())
}

// Verb is the lower-cased leading keyword of sql, "with" for CTEs
func Verb(sql string) string {
	f := strings.Fields(sql)
	if len(f) == 0 {
		return "unknown"
	}
	return strings.ToLower(f[0])
}

// Tracer logs every statement regardless of the root level, slow ones at warn
func Tracer(root logger.Logger) QueryTracer {
	ll := root.Level(zerolog.DebugLevel).With().Str("component", "pg").Logger()
	return &zlTracer{log: ll}
}

type zlTracer struct{ log logger.Logger }

func (z *zlTracer) OnQuery(_ context.Context, ev QueryEvent) {
	evt := z.log.Info()
	if ev.Slow {
		evt = z.log.Warn()
	}
	evt.Float64("elapsed_ms", float64(ev.Elapsed.Microseconds())/1000.0).
		Bool("slow", ev.Slow).
		Bool("tx", ev.InTx).
		Str("sql", compact(ev.SQL)).
		Strs("args", logArgs(ev.Args)).
		Err(ev.Err).
		Msg("pg query")
}

// match batches travel as arrays; only their length is logged
const maxLoggedElems = 8

func logArgs(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		v := reflect.ValueOf(a)
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8 && v.Len() > maxLoggedElems {
			out[i] = fmt.Sprintf("[%d items]", v.Len())
			continue
		}
		out[i] = fmt.Sprint(a)
	}
	return out
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
