package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"depverify/internal/errors"
	"depverify/internal/graph"
	"depverify/internal/verify"
)

// Run is the stored summary of one verification run.
type Run struct {
	RunID         string         `json:"runId"`
	StartedAt     time.Time      `json:"startedAt"`
	Duration      time.Duration  `json:"duration"`
	Partial       bool           `json:"partial"`
	Summary       verify.Summary `json:"summary"`
	SchemaVersion string         `json:"schemaVersion"`
	Fingerprint   string         `json:"fingerprint"`
	SavedAt       time.Time      `json:"savedAt"`
}

// RunDetail is a stored run with its claim results in input order.
type RunDetail struct {
	Run
	Claims []*verify.ClaimResult `json:"claims"`
}

// Store saves and loads verification runs.
type Store struct {
	db  *DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore creates a run store on db.
func NewStore(db *DB) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.New(errors.InternalError, "failed to create zstd encoder", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, errors.New(errors.InternalError, "failed to create zstd decoder", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close releases the codecs. The DB stays open.
func (s *Store) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// SaveRun stores report, replacing any earlier run with the same id.
// The graph must pass validation.
func (s *Store) SaveRun(ctx context.Context, report *verify.Report) error {
	if report == nil || report.RunID == "" {
		return errors.New(errors.ConfigurationError, "report has no run id", nil)
	}
	g := report.Graph
	if g == nil {
		g = graph.New()
	}
	if err := g.Validate(); err != nil {
		return err
	}
	fp, err := graph.Fingerprint(g)
	if err != nil {
		return errors.Wrap(err, errors.InternalError, "failed to fingerprint graph")
	}
	data, err := json.Marshal(g)
	if err != nil {
		return errors.New(errors.InternalError, "failed to encode graph", err)
	}
	blob := s.enc.EncodeAll(data, nil)
	summary := report.Summary()

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM claim_results WHERE run_id = ?`, report.RunID); err != nil {
			return errors.New(errors.InternalError, "failed to clear claim results", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, report.RunID); err != nil {
			return errors.New(errors.InternalError, "failed to clear run", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (
				run_id, started_at, duration_ns, partial,
				total, confirmed, rejected, cancelled, failed, nodes, edges,
				schema_version, fingerprint, graph, saved_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.RunID,
			report.StartedAt.UTC().Format(time.RFC3339Nano),
			int64(report.Duration),
			report.Partial,
			summary.Total, summary.Confirmed, summary.Rejected, summary.Cancelled, summary.Failed,
			summary.Nodes, summary.Edges,
			g.SchemaVersion,
			fp,
			blob,
			time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return errors.New(errors.InternalError, fmt.Sprintf("failed to save run %s", report.RunID), err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO claim_results (
				run_id, position, claim_key, status, confidence, attempts, reason, result_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return errors.New(errors.InternalError, "failed to prepare claim insert", err)
		}
		defer stmt.Close()

		for i, c := range report.Claims {
			if c == nil {
				continue
			}
			resultJSON, err := json.Marshal(c)
			if err != nil {
				return errors.New(errors.InternalError, "failed to encode claim result", err)
			}
			_, err = stmt.ExecContext(ctx,
				report.RunID, i, c.Claim.Key(), string(c.Status), c.Confidence, c.Attempts,
				nullString(c.Reason), string(resultJSON),
			)
			if err != nil {
				return errors.New(errors.InternalError, fmt.Sprintf("failed to save claim %s", c.Claim.Key()), err)
			}
		}

		s.db.logger.Debug("Saved run",
			"run", report.RunID,
			"claims", summary.Total,
			"edges", summary.Edges,
			"graph_bytes", len(blob),
		)
		return nil
	})
}

const runColumns = `run_id, started_at, duration_ns, partial, total, confirmed, rejected, cancelled,
	failed, nodes, edges, schema_version, fingerprint, saved_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                  Run
		startedAt, savedAt string
		durationNS         int64
	)
	err := row.Scan(
		&r.RunID, &startedAt, &durationNS, &r.Partial,
		&r.Summary.Total, &r.Summary.Confirmed, &r.Summary.Rejected, &r.Summary.Cancelled,
		&r.Summary.Failed, &r.Summary.Nodes, &r.Summary.Edges,
		&r.SchemaVersion, &r.Fingerprint, &savedAt,
	)
	if err != nil {
		return Run{}, err
	}
	r.Duration = time.Duration(durationNS)
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Run{}, fmt.Errorf("run %s: bad started_at: %w", r.RunID, err)
	}
	if r.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
		return Run{}, fmt.Errorf("run %s: bad saved_at: %w", r.RunID, err)
	}
	return r, nil
}

// ListRuns returns stored runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.InternalError, "failed to list runs", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.New(errors.InternalError, "failed to read run", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.InternalError, "failed to list runs", err)
	}
	return runs, nil
}

// GetRun returns the run with its claim results.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunDetail, error) {
	r, err := scanRun(s.db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, errors.New(errors.InternalError, fmt.Sprintf("failed to read run %s", runID), err)
	}

	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT result_json FROM claim_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, errors.New(errors.InternalError, "failed to read claim results", err)
	}
	defer rows.Close()

	detail := &RunDetail{Run: r, Claims: []*verify.ClaimResult{}}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.New(errors.InternalError, "failed to read claim result", err)
		}
		var c verify.ClaimResult
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, errors.New(errors.SchemaViolation, "stored claim result could not be parsed", err)
		}
		detail.Claims = append(detail.Claims, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.InternalError, "failed to read claim results", err)
	}
	return detail, nil
}

// LoadGraph returns the graph saved with a run and checks its fingerprint.
func (s *Store) LoadGraph(ctx context.Context, runID string) (*graph.Graph, error) {
	var (
		blob        []byte
		fingerprint string
	)
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT graph, fingerprint FROM runs WHERE run_id = ?`, runID).Scan(&blob, &fingerprint)
	if err == sql.ErrNoRows {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, errors.New(errors.InternalError, fmt.Sprintf("failed to read graph of run %s", runID), err)
	}

	data, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, errors.New(errors.SchemaViolation, "stored graph is not a zstd frame", err)
	}
	var g graph.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, errors.New(errors.SchemaViolation, "stored graph could not be parsed", err)
	}
	fp, err := graph.Fingerprint(&g)
	if err != nil {
		return nil, errors.Wrap(err, errors.InternalError, "failed to fingerprint graph")
	}
	if fp != fingerprint {
		return nil, errors.New(errors.GraphInvalid, fmt.Sprintf("graph of run %s does not match its fingerprint", runID), nil)
	}
	return &g, nil
}

// DeleteRun removes a run and its claim results.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM claim_results WHERE run_id = ?`, runID); err != nil {
			return errors.New(errors.InternalError, "failed to delete claim results", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
		if err != nil {
			return errors.New(errors.InternalError, fmt.Sprintf("failed to delete run %s", runID), err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound(runID)
		}
		return nil
	})
}

func notFound(runID string) error {
	return errors.New(errors.NotFound, fmt.Sprintf("run %s not found", runID), nil).
		WithDetails(map[string]interface{}{"runId": runID})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
