package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Leo-Lynt/flow-api/internal/flow"
	logx "github.com/Leo-Lynt/flow-api/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const scheduleColumns = `id, flow_id, user_id, schedule_type, cron_expr, interval_value,
	interval_unit, time_of_day, days_of_week, day_of_month, timezone, enabled, input_data,
	expires_at, next_execution_at, last_executed_at, last_execution_status, execution_count,
	max_executions, consecutive_failures, is_running, current_execution_id, paused_reason`

func (s *sqliteStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*flow.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE enabled = 1 AND (expires_at IS NULL OR expires_at > ?)`,
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*flow.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id string) (*flow.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sc, err
}

func (s *sqliteStore) SaveSchedule(ctx context.Context, sc *flow.Schedule) error {
	days, err := marshalJSON(sc.DaysOfWeek)
	if err != nil {
		return err
	}
	inputs, err := marshalJSON(sc.InputData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules (`+scheduleColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   flow_id=excluded.flow_id, user_id=excluded.user_id,
		   schedule_type=excluded.schedule_type, cron_expr=excluded.cron_expr,
		   interval_value=excluded.interval_value, interval_unit=excluded.interval_unit,
		   time_of_day=excluded.time_of_day, days_of_week=excluded.days_of_week,
		   day_of_month=excluded.day_of_month, timezone=excluded.timezone,
		   enabled=excluded.enabled, input_data=excluded.input_data,
		   expires_at=excluded.expires_at, next_execution_at=excluded.next_execution_at,
		   last_executed_at=excluded.last_executed_at,
		   last_execution_status=excluded.last_execution_status,
		   execution_count=excluded.execution_count, max_executions=excluded.max_executions,
		   consecutive_failures=excluded.consecutive_failures, is_running=excluded.is_running,
		   current_execution_id=excluded.current_execution_id, paused_reason=excluded.paused_reason`,
		sc.ID, sc.FlowID, sc.UserID, string(sc.Type), nullStr(sc.CronExpr), sc.IntervalValue,
		nullStr(string(sc.IntervalUnit)), nullStr(sc.TimeOfDay), nullStr(days), sc.DayOfMonth,
		nullStr(sc.Timezone), boolInt(sc.Enabled), nullStr(inputs),
		nullTime(sc.ExpiresAt), nullTime(sc.NextExecutionAt), nullTime(sc.LastExecutedAt),
		string(statusOrNone(sc.LastExecutionStatus)), sc.ExecutionCount, sc.MaxExecutions,
		sc.ConsecutiveFailures, boolInt(sc.IsRunning), nullStr(sc.CurrentExecutionID),
		nullStr(sc.PausedReason),
	)
	return err
}

func (s *sqliteStore) UpdateScheduleState(ctx context.Context, sc *flow.Schedule) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET
		   enabled=?, next_execution_at=?, last_executed_at=?, last_execution_status=?,
		   execution_count=?, consecutive_failures=?, is_running=?, current_execution_id=?,
		   paused_reason=?
		 WHERE id=?`,
		boolInt(sc.Enabled), nullTime(sc.NextExecutionAt), nullTime(sc.LastExecutedAt),
		string(statusOrNone(sc.LastExecutionStatus)), sc.ExecutionCount,
		sc.ConsecutiveFailures, boolInt(sc.IsRunning), nullStr(sc.CurrentExecutionID),
		nullStr(sc.PausedReason), sc.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) GetFlow(ctx context.Context, id string) (*flow.Flow, error) {
	var f flow.Flow
	var nodes, edges string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, user_id, nodes, edges FROM flows WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.UserID, &nodes, &edges)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(nodes, &f.Nodes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(edges, &f.Edges); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *sqliteStore) SaveFlow(ctx context.Context, f *flow.Flow) error {
	nodes, err := marshalJSON(f.Nodes)
	if err != nil {
		return err
	}
	edges, err := marshalJSON(f.Edges)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (id, name, user_id, nodes, edges) VALUES (?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, user_id=excluded.user_id,
		   nodes=excluded.nodes, edges=excluded.edges`,
		f.ID, f.Name, f.UserID, nodes, edges,
	)
	return err
}

func (s *sqliteStore) CreateExecution(ctx context.Context, e *flow.Execution) error {
	results, err := marshalJSON(e.NodeResults)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, flow_id, user_id, triggered_by, schedule_id, status,
		   started_at, finished_at, node_results, error, nodes_executed, duration_ms)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.FlowID, e.UserID, string(e.TriggeredBy), nullStr(e.ScheduleID),
		string(e.Status), e.StartedAt.UTC().Format(time.RFC3339Nano), nullTime(e.FinishedAt),
		nullStr(results), nullStr(e.Error), e.NodesExecuted, e.DurationMS,
	)
	return err
}

func (s *sqliteStore) FinishExecution(ctx context.Context, e *flow.Execution) error {
	results, err := marshalJSON(e.NodeResults)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status=?, finished_at=?, node_results=?, error=?,
		   nodes_executed=?, duration_ms=?
		 WHERE id=?`,
		string(e.Status), nullTime(e.FinishedAt), nullStr(results), nullStr(e.Error),
		e.NodesExecuted, e.DurationMS, e.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanSchedule reads one schedule row in scheduleColumns order.
func scanSchedule(scan func(dest ...any) error) (*flow.Schedule, error) {
	var (
		sc                                    flow.Schedule
		cronExpr, unit, tod, days, tz, inputs sql.NullString
		expires, nextAt, lastAt               sql.NullString
		status, curExec, paused               sql.NullString
		enabled, running                      int
	)
	err := scan(
		&sc.ID, &sc.FlowID, &sc.UserID, (*string)(&sc.Type), &cronExpr, &sc.IntervalValue,
		&unit, &tod, &days, &sc.DayOfMonth, &tz, &enabled, &inputs,
		&expires, &nextAt, &lastAt, &status, &sc.ExecutionCount,
		&sc.MaxExecutions, &sc.ConsecutiveFailures, &running, &curExec, &paused,
	)
	if err != nil {
		return nil, err
	}
	sc.CronExpr = cronExpr.String
	sc.IntervalUnit = flow.IntervalUnit(unit.String)
	sc.TimeOfDay = tod.String
	sc.Timezone = tz.String
	sc.Enabled = enabled != 0
	sc.IsRunning = running != 0
	sc.LastExecutionStatus = flow.ExecStatus(status.String)
	sc.CurrentExecutionID = curExec.String
	sc.PausedReason = paused.String
	if err := unmarshalJSON(days.String, &sc.DaysOfWeek); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(inputs.String, &sc.InputData); err != nil {
		return nil, err
	}
	if sc.ExpiresAt, err = scanTime(expires); err != nil {
		return nil, err
	}
	if sc.NextExecutionAt, err = scanTime(nextAt); err != nil {
		return nil, err
	}
	if sc.LastExecutedAt, err = scanTime(lastAt); err != nil {
		return nil, err
	}
	return &sc, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func statusOrNone(s flow.ExecStatus) flow.ExecStatus {
	if s == "" {
		return flow.StatusNone
	}
	return s
}
