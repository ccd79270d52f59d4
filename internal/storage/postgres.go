package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Leo-Lynt/flow-api/internal/flow"
	logx "github.com/Leo-Lynt/flow-api/pkg/logx"
)

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	st := &pgStore{pool: pool, log: log}
	if err := st.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func (s *pgStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS flows (
			id      TEXT PRIMARY KEY,
			name    TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			nodes   JSONB NOT NULL DEFAULT '[]',
			edges   JSONB NOT NULL DEFAULT '[]'
		);
		CREATE TABLE IF NOT EXISTS schedules (
			id                    TEXT PRIMARY KEY,
			flow_id               TEXT NOT NULL,
			user_id               TEXT NOT NULL DEFAULT '',
			schedule_type         TEXT NOT NULL,
			cron_expr             TEXT,
			interval_value        INTEGER NOT NULL DEFAULT 0,
			interval_unit         TEXT,
			time_of_day           TEXT,
			days_of_week          JSONB,
			day_of_month          INTEGER NOT NULL DEFAULT 0,
			timezone              TEXT,
			enabled               BOOLEAN NOT NULL DEFAULT TRUE,
			input_data            JSONB,
			expires_at            TIMESTAMPTZ,
			next_execution_at     TIMESTAMPTZ,
			last_executed_at      TIMESTAMPTZ,
			last_execution_status TEXT NOT NULL DEFAULT 'none',
			execution_count       INTEGER NOT NULL DEFAULT 0,
			max_executions        INTEGER NOT NULL DEFAULT 0,
			consecutive_failures  INTEGER NOT NULL DEFAULT 0,
			is_running            BOOLEAN NOT NULL DEFAULT FALSE,
			current_execution_id  TEXT,
			paused_reason         TEXT
		);
		CREATE TABLE IF NOT EXISTS executions (
			id             TEXT PRIMARY KEY,
			flow_id        TEXT NOT NULL,
			user_id        TEXT NOT NULL DEFAULT '',
			triggered_by   TEXT NOT NULL,
			schedule_id    TEXT,
			status         TEXT NOT NULL,
			started_at     TIMESTAMPTZ NOT NULL,
			finished_at    TIMESTAMPTZ,
			node_results   JSONB,
			error          TEXT,
			nodes_executed INTEGER NOT NULL DEFAULT 0,
			duration_ms    BIGINT NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

const pgScheduleColumns = `id, flow_id, user_id, schedule_type, cron_expr, interval_value,
	interval_unit, time_of_day, days_of_week, day_of_month, timezone, enabled, input_data,
	expires_at, next_execution_at, last_executed_at, last_execution_status, execution_count,
	max_executions, consecutive_failures, is_running, current_execution_id, paused_reason`

func (s *pgStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*flow.Schedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgScheduleColumns+` FROM schedules
		 WHERE enabled AND (expires_at IS NULL OR expires_at > $1)`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*flow.Schedule
	for rows.Next() {
		sc, err := scanPgSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *pgStore) GetSchedule(ctx context.Context, id string) (*flow.Schedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgScheduleColumns+` FROM schedules WHERE id = $1`, id)
	sc, err := scanPgSchedule(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sc, err
}

func (s *pgStore) SaveSchedule(ctx context.Context, sc *flow.Schedule) error {
	days, err := marshalJSON(sc.DaysOfWeek)
	if err != nil {
		return err
	}
	inputs, err := marshalJSON(sc.InputData)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO schedules (`+pgScheduleColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		 ON CONFLICT (id) DO UPDATE SET
		   flow_id=EXCLUDED.flow_id, user_id=EXCLUDED.user_id,
		   schedule_type=EXCLUDED.schedule_type, cron_expr=EXCLUDED.cron_expr,
		   interval_value=EXCLUDED.interval_value, interval_unit=EXCLUDED.interval_unit,
		   time_of_day=EXCLUDED.time_of_day, days_of_week=EXCLUDED.days_of_week,
		   day_of_month=EXCLUDED.day_of_month, timezone=EXCLUDED.timezone,
		   enabled=EXCLUDED.enabled, input_data=EXCLUDED.input_data,
		   expires_at=EXCLUDED.expires_at, next_execution_at=EXCLUDED.next_execution_at,
		   last_executed_at=EXCLUDED.last_executed_at,
		   last_execution_status=EXCLUDED.last_execution_status,
		   execution_count=EXCLUDED.execution_count, max_executions=EXCLUDED.max_executions,
		   consecutive_failures=EXCLUDED.consecutive_failures, is_running=EXCLUDED.is_running,
		   current_execution_id=EXCLUDED.current_execution_id, paused_reason=EXCLUDED.paused_reason`,
		sc.ID, sc.FlowID, sc.UserID, string(sc.Type), nullStr(sc.CronExpr), sc.IntervalValue,
		nullStr(string(sc.IntervalUnit)), nullStr(sc.TimeOfDay), nullStr(days), sc.DayOfMonth,
		nullStr(sc.Timezone), sc.Enabled, nullStr(inputs),
		sc.ExpiresAt, sc.NextExecutionAt, sc.LastExecutedAt,
		string(statusOrNone(sc.LastExecutionStatus)), sc.ExecutionCount, sc.MaxExecutions,
		sc.ConsecutiveFailures, sc.IsRunning, nullStr(sc.CurrentExecutionID),
		nullStr(sc.PausedReason),
	)
	return err
}

func (s *pgStore) UpdateScheduleState(ctx context.Context, sc *flow.Schedule) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schedules SET
		   enabled=$1, next_execution_at=$2, last_executed_at=$3, last_execution_status=$4,
		   execution_count=$5, consecutive_failures=$6, is_running=$7,
		   current_execution_id=$8, paused_reason=$9
		 WHERE id=$10`,
		sc.Enabled, sc.NextExecutionAt, sc.LastExecutedAt,
		string(statusOrNone(sc.LastExecutionStatus)), sc.ExecutionCount,
		sc.ConsecutiveFailures, sc.IsRunning, nullStr(sc.CurrentExecutionID),
		nullStr(sc.PausedReason), sc.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) GetFlow(ctx context.Context, id string) (*flow.Flow, error) {
	var f flow.Flow
	var nodes, edges []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, user_id, nodes, edges FROM flows WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.UserID, &nodes, &edges)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(string(nodes), &f.Nodes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(string(edges), &f.Edges); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *pgStore) SaveFlow(ctx context.Context, f *flow.Flow) error {
	nodes, err := marshalJSON(f.Nodes)
	if err != nil {
		return err
	}
	edges, err := marshalJSON(f.Edges)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO flows (id, name, user_id, nodes, edges) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET
		   name=EXCLUDED.name, user_id=EXCLUDED.user_id,
		   nodes=EXCLUDED.nodes, edges=EXCLUDED.edges`,
		f.ID, f.Name, f.UserID, nodes, edges,
	)
	return err
}

func (s *pgStore) CreateExecution(ctx context.Context, e *flow.Execution) error {
	results, err := marshalJSON(e.NodeResults)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO executions (id, flow_id, user_id, triggered_by, schedule_id, status,
		   started_at, finished_at, node_results, error, nodes_executed, duration_ms)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.FlowID, e.UserID, string(e.TriggeredBy), nullStr(e.ScheduleID),
		string(e.Status), e.StartedAt, e.FinishedAt, nullStr(results), nullStr(e.Error),
		e.NodesExecuted, e.DurationMS,
	)
	return err
}

func (s *pgStore) FinishExecution(ctx context.Context, e *flow.Execution) error {
	results, err := marshalJSON(e.NodeResults)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status=$1, finished_at=$2, node_results=$3, error=$4,
		   nodes_executed=$5, duration_ms=$6
		 WHERE id=$7`,
		string(e.Status), e.FinishedAt, nullStr(results), nullStr(e.Error),
		e.NodesExecuted, e.DurationMS, e.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPgSchedule(scan func(dest ...any) error) (*flow.Schedule, error) {
	var (
		sc                      flow.Schedule
		cronExpr, unit, tod, tz *string
		days, inputs            []byte
		status, curExec, paused *string
		expires, nextAt, lastAt *time.Time
	)
	err := scan(
		&sc.ID, &sc.FlowID, &sc.UserID, (*string)(&sc.Type), &cronExpr, &sc.IntervalValue,
		&unit, &tod, &days, &sc.DayOfMonth, &tz, &sc.Enabled, &inputs,
		&expires, &nextAt, &lastAt, &status, &sc.ExecutionCount,
		&sc.MaxExecutions, &sc.ConsecutiveFailures, &sc.IsRunning, &curExec, &paused,
	)
	if err != nil {
		return nil, err
	}
	sc.CronExpr = deref(cronExpr)
	sc.IntervalUnit = flow.IntervalUnit(deref(unit))
	sc.TimeOfDay = deref(tod)
	sc.Timezone = deref(tz)
	sc.LastExecutionStatus = flow.ExecStatus(deref(status))
	sc.CurrentExecutionID = deref(curExec)
	sc.PausedReason = deref(paused)
	sc.ExpiresAt = expires
	sc.NextExecutionAt = nextAt
	sc.LastExecutedAt = lastAt
	if err := unmarshalJSON(string(days), &sc.DaysOfWeek); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(string(inputs), &sc.InputData); err != nil {
		return nil, err
	}
	return &sc, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
