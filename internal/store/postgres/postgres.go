package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/store"
	"rotikita/backend/internal/xid"
)

// Store is the PostgreSQL repository. Record tables come in live/archive
// pairs; the shift_reports table carries the unique
// (owner_id, shift_id, report_date) constraint that breaks first-submission
// races.
type Store struct {
	db          *sql.DB
	databaseURL string
	logger      *zap.Logger
}

func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{db: db, databaseURL: databaseURL, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema creates the tables, the report uniqueness constraint and the
// change-notification triggers. Idempotent.
func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS production_records_live (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			item_name TEXT NOT NULL DEFAULT '',
			qty INTEGER NOT NULL,
			shift_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS production_records_archive (LIKE production_records_live INCLUDING ALL)`,
		`CREATE TABLE IF NOT EXISTS sale_records_live (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			item_name TEXT NOT NULL DEFAULT '',
			qty INTEGER NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			discount NUMERIC(12,2) NOT NULL DEFAULT 0,
			shift_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sale_records_archive (LIKE sale_records_live INCLUDING ALL)`,
		`CREATE INDEX IF NOT EXISTS idx_production_live_window ON production_records_live (shift_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_production_archive_window ON production_records_archive (shift_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_live_window ON sale_records_live (shift_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_archive_window ON sale_records_archive (shift_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS shift_reports (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			shift_id TEXT NOT NULL,
			report_date DATE NOT NULL,
			total_revenue NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_items_sold INTEGER NOT NULL DEFAULT 0,
			total_remaining INTEGER NOT NULL DEFAULT 0,
			feedback TEXT NOT NULL DEFAULT '',
			sales_snapshot JSONB NOT NULL DEFAULT '[]',
			remaining_snapshot JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT shift_reports_key UNIQUE (owner_id, shift_id, report_date)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE OR REPLACE FUNCTION notify_record_change() RETURNS trigger AS $$
		BEGIN
			-- NEW is unassigned on DELETE and OLD on INSERT; referencing the
			-- wrong one raises, so branch on the operation.
			PERFORM pg_notify('record_changes', json_build_object(
				'op', lower(TG_OP),
				'set', TG_ARGV[0],
				'shift_id', CASE WHEN TG_OP = 'DELETE' THEN OLD.shift_id ELSE NEW.shift_id END
			)::text);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS production_live_notify ON production_records_live`,
		`CREATE TRIGGER production_live_notify AFTER INSERT OR UPDATE OR DELETE ON production_records_live
			FOR EACH ROW EXECUTE FUNCTION notify_record_change('production')`,
		`DROP TRIGGER IF EXISTS sales_live_notify ON sale_records_live`,
		`CREATE TRIGGER sales_live_notify AFTER INSERT OR UPDATE OR DELETE ON sale_records_live
			FOR EACH ROW EXECUTE FUNCTION notify_record_change('sales')`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func recordTable(set domain.RecordSet, source domain.Source) (string, error) {
	switch {
	case set == domain.SetProduction && source == domain.SourceLive:
		return "production_records_live", nil
	case set == domain.SetProduction && source == domain.SourceArchived:
		return "production_records_archive", nil
	case set == domain.SetSales && source == domain.SourceLive:
		return "sale_records_live", nil
	case set == domain.SetSales && source == domain.SourceArchived:
		return "sale_records_archive", nil
	}
	return "", store.ErrInvalidInput
}

func (s *Store) QueryProduction(ctx context.Context, source domain.Source, filter store.RecordFilter) ([]domain.ProductionRecord, error) {
	table, err := recordTable(domain.SetProduction, source)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, item_id, item_name, qty, shift_id, owner_id, created_at
		FROM %s
		WHERE shift_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
	`, table), string(filter.ShiftID), filter.From, filter.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ProductionRecord, 0, 64)
	for rows.Next() {
		var rec domain.ProductionRecord
		if err := rows.Scan(&rec.ID, &rec.ItemID, &rec.ItemName, &rec.Qty, &rec.ShiftID, &rec.OwnerID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) QuerySales(ctx context.Context, source domain.Source, filter store.RecordFilter) ([]domain.SaleRecord, error) {
	table, err := recordTable(domain.SetSales, source)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, item_id, item_name, qty, unit_price, discount, shift_id, owner_id, created_at
		FROM %s
		WHERE shift_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
	`, table), string(filter.ShiftID), filter.From, filter.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.SaleRecord, 0, 64)
	for rows.Next() {
		var rec domain.SaleRecord
		if err := rows.Scan(&rec.ID, &rec.ItemID, &rec.ItemName, &rec.Qty, &rec.UnitPrice, &rec.Discount, &rec.ShiftID, &rec.OwnerID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) CountRecords(ctx context.Context, set domain.RecordSet, source domain.Source, filter store.RecordFilter) (int, error) {
	table, err := recordTable(set, source)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT count(*) FROM %s
		WHERE shift_id = $1 AND created_at >= $2 AND created_at < $3
	`, table), string(filter.ShiftID), filter.From, filter.To).Scan(&count)
	return count, err
}

func (s *Store) InsertProduction(ctx context.Context, rec domain.ProductionRecord) (*domain.ProductionRecord, error) {
	if rec.ItemID == "" || rec.Qty < 1 || rec.ShiftID == "" {
		return nil, store.ErrInvalidInput
	}
	if rec.ID == "" {
		rec.ID = xid.New("prod")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO production_records_live (id, item_id, item_name, qty, shift_id, owner_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ID, rec.ItemID, rec.ItemName, rec.Qty, string(rec.ShiftID), rec.OwnerID, rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) InsertSale(ctx context.Context, rec domain.SaleRecord) (*domain.SaleRecord, error) {
	if rec.ItemID == "" || rec.Qty < 1 || rec.ShiftID == "" {
		return nil, store.ErrInvalidInput
	}
	if rec.ID == "" {
		rec.ID = xid.New("sale")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sale_records_live (id, item_id, item_name, qty, unit_price, discount, shift_id, owner_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.ItemID, rec.ItemName, rec.Qty, rec.UnitPrice, rec.Discount, string(rec.ShiftID), rec.OwnerID, rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) GetReport(ctx context.Context, key domain.ReportKey) (*domain.ShiftReport, error) {
	var (
		report        domain.ShiftReport
		reportDate    time.Time
		salesJSON     []byte
		remainingJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, shift_id, report_date, total_revenue, total_items_sold,
		       total_remaining, feedback, sales_snapshot, remaining_snapshot, created_at, updated_at
		FROM shift_reports
		WHERE owner_id = $1 AND shift_id = $2 AND report_date = $3
	`, key.OwnerID, string(key.ShiftID), key.ReportDate).Scan(
		&report.ID, &report.OwnerID, &report.ShiftID, &reportDate, &report.TotalRevenue,
		&report.TotalItemsSold, &report.TotalRemaining, &report.Feedback,
		&salesJSON, &remainingJSON, &report.CreatedAt, &report.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	report.ReportDate = reportDate.Format("2006-01-02")
	if err := json.Unmarshal(salesJSON, &report.SalesSnapshot); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(remainingJSON, &report.RemainingSnapshot); err != nil {
		return nil, err
	}
	report.CreatedAt = report.CreatedAt.UTC()
	report.UpdatedAt = report.UpdatedAt.UTC()
	return &report, nil
}

func (s *Store) InsertReport(ctx context.Context, input domain.ShiftReportInput) (*domain.ShiftReport, error) {
	salesJSON, err := json.Marshal(snapshotOrEmpty(input.SalesSnapshot))
	if err != nil {
		return nil, err
	}
	remainingJSON, err := json.Marshal(snapshotOrEmpty(input.RemainingSnapshot))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	report := domain.ShiftReport{
		ID:                xid.New("report"),
		OwnerID:           input.OwnerID,
		ShiftID:           input.ShiftID,
		ReportDate:        input.ReportDate,
		TotalRevenue:      input.TotalRevenue,
		TotalItemsSold:    input.TotalItemsSold,
		TotalRemaining:    input.TotalRemaining,
		Feedback:          input.Feedback,
		SalesSnapshot:     input.SalesSnapshot,
		RemainingSnapshot: input.RemainingSnapshot,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shift_reports (id, owner_id, shift_id, report_date, total_revenue,
			total_items_sold, total_remaining, feedback, sales_snapshot, remaining_snapshot,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, report.ID, report.OwnerID, string(report.ShiftID), report.ReportDate, report.TotalRevenue,
		report.TotalItemsSold, report.TotalRemaining, report.Feedback, salesJSON, remainingJSON,
		report.CreatedAt, report.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateReport
		}
		return nil, err
	}
	return &report, nil
}

func (s *Store) UpdateReport(ctx context.Context, id string, input domain.ShiftReportInput) (*domain.ShiftReport, error) {
	salesJSON, err := json.Marshal(snapshotOrEmpty(input.SalesSnapshot))
	if err != nil {
		return nil, err
	}
	remainingJSON, err := json.Marshal(snapshotOrEmpty(input.RemainingSnapshot))
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE shift_reports
		SET total_revenue = $2, total_items_sold = $3, total_remaining = $4,
		    feedback = $5, sales_snapshot = $6, remaining_snapshot = $7, updated_at = now()
		WHERE id = $1
	`, id, input.TotalRevenue, input.TotalItemsSold, input.TotalRemaining,
		input.Feedback, salesJSON, remainingJSON)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetReport(ctx, input.Key())
}

func (s *Store) ListReports(ctx context.Context, ownerID string, limit int) ([]domain.ShiftReport, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, shift_id, report_date, total_revenue, total_items_sold,
		       total_remaining, feedback, sales_snapshot, remaining_snapshot, created_at, updated_at
		FROM shift_reports
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY report_date DESC, created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]domain.ShiftReport, 0, limit)
	for rows.Next() {
		var (
			report        domain.ShiftReport
			reportDate    time.Time
			salesJSON     []byte
			remainingJSON []byte
		)
		if err := rows.Scan(&report.ID, &report.OwnerID, &report.ShiftID, &reportDate,
			&report.TotalRevenue, &report.TotalItemsSold, &report.TotalRemaining, &report.Feedback,
			&salesJSON, &remainingJSON, &report.CreatedAt, &report.UpdatedAt); err != nil {
			return nil, err
		}
		report.ReportDate = reportDate.Format("2006-01-02")
		if err := json.Unmarshal(salesJSON, &report.SalesSnapshot); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(remainingJSON, &report.RemainingSnapshot); err != nil {
			return nil, err
		}
		report.CreatedAt = report.CreatedAt.UTC()
		report.UpdatedAt = report.UpdatedAt.UTC()
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// RotateLive moves records older than before from the live tables into the
// archives. Runs in one transaction so the selector never sees a record in
// neither location.
func (s *Store) RotateLive(ctx context.Context, before time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	moved := 0
	for _, pair := range []struct{ live, archive string }{
		{"production_records_live", "production_records_archive"},
		{"sale_records_live", "sale_records_archive"},
	} {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			WITH moved AS (
				DELETE FROM %s WHERE created_at < $1 RETURNING *
			)
			INSERT INTO %s SELECT * FROM moved
		`, pair.live, pair.archive), before)
		if err != nil {
			return 0, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		moved += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return moved, nil
}

type notifyPayload struct {
	Op      string `json:"op"`
	Set     string `json:"set"`
	ShiftID string `json:"shift_id"`
}

// SubscribeChanges listens on the record_changes channel over a dedicated
// connection. The stream closes when the connection drops; consumers
// resubscribe and keep a fallback poll in the meantime.
func (s *Store) SubscribeChanges(ctx context.Context, sets []domain.RecordSet) (<-chan domain.ChangeEvent, error) {
	conn, err := pgx.Connect(ctx, s.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSubscribeUnavailable, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN record_changes"); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("%w: %v", store.ErrSubscribeUnavailable, err)
	}

	wanted := make(map[domain.RecordSet]bool, len(sets))
	for _, set := range sets {
		wanted[set] = true
	}

	events := make(chan domain.ChangeEvent, 32)
	go func() {
		defer close(events)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = conn.Close(closeCtx)
		}()

		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("change feed connection lost", zap.Error(err))
				}
				return
			}

			var payload notifyPayload
			if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
				s.logger.Warn("malformed change payload", zap.String("payload", notification.Payload))
				continue
			}
			event := domain.ChangeEvent{
				Op:      domain.ChangeOp(payload.Op),
				Set:     domain.RecordSet(payload.Set),
				ShiftID: domain.ShiftID(payload.ShiftID),
				At:      time.Now().UTC(),
			}
			if len(wanted) > 0 && !wanted[event.Set] {
				continue
			}
			select {
			case events <- event:
			default:
				// Slow consumer: drop rather than block the listener. The
				// fallback poll covers the gap.
			}
		}
	}()

	return events, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func snapshotOrEmpty(lines []domain.ReportLine) []domain.ReportLine {
	if lines == nil {
		return []domain.ReportLine{}
	}
	return lines
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
