package store

import (
	"context"
	"errors"
	"time"

	"rotikita/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateReport = errors.New("duplicate report key")
	ErrInvalidInput    = errors.New("invalid input")
	// ErrSubscribeUnavailable is returned when the change-notification channel
	// cannot be established; callers must fall back to polling.
	ErrSubscribeUnavailable = errors.New("change subscription unavailable")
)

// RecordFilter bounds a record query to one shift window. From is inclusive,
// To exclusive. The time range is mandatory so a query never scans full
// history.
type RecordFilter struct {
	ShiftID domain.ShiftID
	From    time.Time
	To      time.Time
}

// Repository is the storage collaborator. Production and sale records are
// append-only and owned by the storage engine; the report table is the only
// entity this package writes to on behalf of operators.
type Repository interface {
	QueryProduction(ctx context.Context, source domain.Source, filter RecordFilter) ([]domain.ProductionRecord, error)
	QuerySales(ctx context.Context, source domain.Source, filter RecordFilter) ([]domain.SaleRecord, error)
	CountRecords(ctx context.Context, set domain.RecordSet, source domain.Source, filter RecordFilter) (int, error)

	InsertProduction(ctx context.Context, rec domain.ProductionRecord) (*domain.ProductionRecord, error)
	InsertSale(ctx context.Context, rec domain.SaleRecord) (*domain.SaleRecord, error)

	GetReport(ctx context.Context, key domain.ReportKey) (*domain.ShiftReport, error)
	InsertReport(ctx context.Context, input domain.ShiftReportInput) (*domain.ShiftReport, error)
	UpdateReport(ctx context.Context, id string, input domain.ShiftReportInput) (*domain.ShiftReport, error)
	ListReports(ctx context.Context, ownerID string, limit int) ([]domain.ShiftReport, error)

	// RotateLive moves live records with created_at < before into the archive
	// and returns how many rows moved. Append-only data is never dropped.
	RotateLive(ctx context.Context, before time.Time) (int, error)

	// SubscribeChanges delivers change events for the given record sets until
	// ctx is cancelled. Delivery is best-effort: the stream may silently stop,
	// so consumers must keep a fallback poll.
	SubscribeChanges(ctx context.Context, sets []domain.RecordSet) (<-chan domain.ChangeEvent, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
