package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mquery/internal/modkit/repokit"
	perr "mquery/internal/platform/errors"
	dom "mquery/internal/services/jobs/domain"

	"github.com/jackc/pgx/v5"
)

// Schema is applied by EnsureSchema at startup
const Schema = `
CREATE TABLE IF NOT EXISTS query_jobs (
	id              text PRIMARY KEY,
	rule_text       text        NOT NULL,
	rule_name       text        NOT NULL,
	taint           text,
	priority        text        NOT NULL,
	status          text        NOT NULL,
	error           text        NOT NULL DEFAULT '',
	datasets        jsonb       NOT NULL,
	files_processed int         NOT NULL DEFAULT 0,
	files_total     int         NOT NULL DEFAULT 0,
	files_matched   int         NOT NULL DEFAULT 0,
	files_errored   int         NOT NULL DEFAULT 0,
	submitted_at    timestamptz NOT NULL,
	started_at      timestamptz,
	finished_at     timestamptz
);
CREATE TABLE IF NOT EXISTS query_matches (
	job_id  text      NOT NULL REFERENCES query_jobs(id) ON DELETE CASCADE,
	seq     bigserial NOT NULL,
	file    text      NOT NULL,
	dataset text      NOT NULL,
	offsets jsonb     NOT NULL,
	PRIMARY KEY (job_id, file)
);
CREATE INDEX IF NOT EXISTS query_matches_seq ON query_matches (job_id, seq);
`

// PG stores jobs in Postgres. Each Store method is one transaction, and
// Finish writes the tail matches together with the status
type PG struct {
	db   repokit.TxRunner
	bind repokit.Binder[queries]
}

// NewPG returns a Store over db
func NewPG(db repokit.TxRunner) *PG {
	if db == nil {
		panic("jobs pg store requires a non nil TxRunner")
	}
	return &PG{db: db, bind: repokit.BindFunc[queries](func(q repokit.Queryer) queries { return queries{q} })}
}

// EnsureSchema creates the job tables when missing
func (s *PG) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return perr.FromPostgres(err, "create job schema")
}

func (s *PG) tx(ctx context.Context, fn func(queries) error) error {
	return repokit.WithTx(ctx, s.db, func(q repokit.Queryer) error {
		return fn(repokit.MustBind(s.bind, q))
	})
}

// Create implements domain.Store
func (s *PG) Create(ctx context.Context, j dom.Job) error {
	ds, err := json.Marshal(j.Datasets)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO query_jobs (id, rule_text, rule_name, taint, priority, status, datasets, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		j.ID, j.RuleText, j.RuleName, j.Taint, string(j.Priority), string(j.Status), string(ds), j.SubmittedAt)
	return perr.FromPostgres(err, "insert job")
}

// Get implements domain.Store
func (s *PG) Get(ctx context.Context, id string) (dom.Job, error) {
	return queries{s.db}.job(ctx, id, false)
}

// List implements domain.Store
func (s *PG) List(ctx context.Context) ([]dom.Job, error) {
	rows, err := s.db.Query(ctx, `SELECT `+jobColumns+` FROM query_jobs ORDER BY submitted_at DESC, id`)
	if err != nil {
		return nil, perr.FromPostgres(err, "list jobs")
	}
	defer rows.Close()
	out := []dom.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, perr.FromPostgres(rows.Err(), "list jobs")
}

// Start implements domain.Store
func (s *PG) Start(ctx context.Context, id string, at time.Time) (bool, error) {
	var started bool
	err := s.tx(ctx, func(q queries) error {
		j, err := q.job(ctx, id, true)
		if err != nil {
			return err
		}
		if j.Status != dom.StatusQueued {
			return nil
		}
		_, err = q.Exec(ctx, `UPDATE query_jobs SET status = $2, started_at = $3 WHERE id = $1`,
			id, string(dom.StatusRunning), at)
		started = err == nil
		return perr.FromPostgres(err, "start job")
	})
	return started, err
}

// Progress implements domain.Store
func (s *PG) Progress(ctx context.Context, id string, p dom.Progress) error {
	_, err := s.db.Exec(ctx, `
		UPDATE query_jobs
		   SET files_processed = $2, files_total = $3, files_errored = $4
		 WHERE id = $1 AND status IN ('queued', 'running')`,
		id, p.Processed, p.Total, p.Errored)
	return perr.FromPostgres(err, "update job progress")
}

// Append implements domain.Store
func (s *PG) Append(ctx context.Context, id string, ms []dom.Match) (int, error) {
	var n int
	err := s.tx(ctx, func(q queries) error {
		j, err := q.job(ctx, id, true)
		if err != nil || j.Status.Terminal() {
			return err
		}
		n, err = q.insertMatches(ctx, id, ms)
		return err
	})
	return n, err
}

// Finish implements domain.Store
func (s *PG) Finish(ctx context.Context, id string, st dom.Status, msg string, at time.Time, tail []dom.Match) (bool, error) {
	var done bool
	err := s.tx(ctx, func(q queries) error {
		j, err := q.job(ctx, id, true)
		if err != nil || j.Status.Terminal() {
			return err
		}
		if _, err := q.insertMatches(ctx, id, tail); err != nil {
			return err
		}
		_, err = q.Exec(ctx, `UPDATE query_jobs SET status = $2, error = $3, finished_at = $4 WHERE id = $1`,
			id, string(st), msg, at)
		done = err == nil
		return perr.FromPostgres(err, "finish job")
	})
	return done, err
}

// View implements domain.Store. The job row is read before the matches, so
// a terminal status always comes with its complete match set
func (s *PG) View(ctx context.Context, id string, offset, limit int) (dom.StatusView, error) {
	var v dom.StatusView
	err := s.tx(ctx, func(q queries) error {
		j, err := q.job(ctx, id, false)
		if err != nil {
			return err
		}
		v.Job = j
		if err := q.QueryRow(ctx, `SELECT count(*) FROM query_matches WHERE job_id = $1`, id).Scan(&v.Total); err != nil {
			return perr.FromPostgres(err, "count matches")
		}
		rows, err := q.Query(ctx, `
			SELECT file, dataset, offsets FROM query_matches
			 WHERE job_id = $1 ORDER BY seq OFFSET $2 LIMIT $3`,
			id, max(offset, 0), max(limit, 0))
		if err != nil {
			return perr.FromPostgres(err, "read matches")
		}
		defer rows.Close()
		v.Matches = []dom.Match{}
		for rows.Next() {
			var m dom.Match
			var raw []byte
			if err := rows.Scan(&m.File, &m.Dataset, &raw); err != nil {
				return perr.FromPostgres(err, "scan match")
			}
			if err := json.Unmarshal(raw, &m.Offsets); err != nil {
				return perr.Wrap(err, perr.ErrorCodeDB, "decode match offsets")
			}
			v.Matches = append(v.Matches, m)
		}
		return perr.FromPostgres(rows.Err(), "read matches")
	})
	return v, err
}

// Prune implements domain.Store
func (s *PG) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM query_jobs
		 WHERE status IN ('done', 'error', 'cancelled') AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, perr.FromPostgres(err, "prune jobs")
	}
	return int(tag.RowsAffected()), nil
}

// Ping implements domain.Store
func (s *PG) Ping(ctx context.Context) error {
	var one int
	return perr.FromPostgres(s.db.QueryRow(ctx, `SELECT 1`).Scan(&one), "ping")
}

type queries struct{ repokit.Queryer }

const jobColumns = `id, rule_text, rule_name, taint, priority, status, error, datasets,
	files_processed, files_total, files_matched, files_errored, submitted_at, started_at, finished_at`

func (q queries) job(ctx context.Context, id string, lock bool) (dom.Job, error) {
	sql := `SELECT ` + jobColumns + ` FROM query_jobs WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	j, err := scanJob(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return j, perr.NotFoundf("job %s not found", id)
	}
	return j, err
}

func (q queries) insertMatches(ctx context.Context, id string, ms []dom.Match) (int, error) {
	if len(ms) == 0 {
		return 0, nil
	}
	files := make([]string, len(ms))
	sets := make([]string, len(ms))
	offs := make([]string, len(ms))
	for i, m := range ms {
		raw, err := json.Marshal(m.Offsets)
		if err != nil {
			return 0, err
		}
		files[i], sets[i], offs[i] = m.File, m.Dataset, string(raw)
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO query_matches (job_id, file, dataset, offsets)
		SELECT $1::text, f, d, o::jsonb
		  FROM unnest($2::text[], $3::text[], $4::text[]) WITH ORDINALITY AS t(f, d, o, n)
		 ORDER BY n
		ON CONFLICT (job_id, file) DO NOTHING`,
		id, files, sets, offs)
	if err != nil {
		return 0, perr.FromPostgres(err, "insert matches")
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		_, err = q.Exec(ctx, `UPDATE query_jobs SET files_matched = files_matched + $2 WHERE id = $1`, id, n)
	}
	return n, perr.FromPostgres(err, "count matches")
}

type scanner interface{ Scan(dest ...any) error }

func scanJob(r scanner) (dom.Job, error) {
	var j dom.Job
	var prio, status string
	var ds []byte
	err := r.Scan(&j.ID, &j.RuleText, &j.RuleName, &j.Taint, &prio, &status, &j.Error, &ds,
		&j.FilesProcessed, &j.FilesTotal, &j.FilesMatched, &j.FilesErrored,
		&j.SubmittedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return j, err
		}
		return j, perr.FromPostgres(err, "scan job")
	}
	j.Priority, j.Status = dom.Priority(prio), dom.Status(status)
	if err := json.Unmarshal(ds, &j.Datasets); err != nil {
		return j, perr.Wrap(err, perr.ErrorCodeDB, "decode job datasets")
	}
	return j, nil
}
