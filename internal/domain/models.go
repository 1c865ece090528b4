package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShiftID string

const (
	ShiftMorning ShiftID = "morning"
	ShiftNight   ShiftID = "night"
)

// ShiftWindow is the operating window derived from wall-clock time. It is
// never stored; the clock recomputes it on demand. Date is the calendar date
// of the window's start instant, so the overnight shift observed after
// midnight still reports under the previous date.
type ShiftWindow struct {
	ShiftID ShiftID   `json:"shift_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Date    string    `json:"date"`
}

// Overnight reports whether the window crosses midnight.
func (w ShiftWindow) Overnight() bool {
	sy, sm, sd := w.Start.Date()
	ey, em, ed := w.End.Date()
	return sy != ey || sm != em || sd != ed
}

// Contains reports whether t falls inside [Start, End).
func (w ShiftWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

type ProductionRecord struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	ItemName  string    `json:"item_name,omitempty"`
	Qty       int       `json:"qty"`
	ShiftID   ShiftID   `json:"shift_id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type SaleRecord struct {
	ID        string          `json:"id"`
	ItemID    string          `json:"item_id"`
	ItemName  string          `json:"item_name,omitempty"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	ShiftID   ShiftID         `json:"shift_id"`
	OwnerID   string          `json:"owner_id"`
	CreatedAt time.Time       `json:"created_at"`
}

type ProductionEntryRequest struct {
	ItemID   string `json:"item_id" validate:"required"`
	ItemName string `json:"item_name"`
	Qty      int    `json:"qty" validate:"required,gt=0"`
}

type SaleEntryRequest struct {
	ItemID    string          `json:"item_id" validate:"required"`
	ItemName  string          `json:"item_name"`
	Qty       int             `json:"qty" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
}

// InventorySnapshot is one reconciled line for a shift window: cumulative
// production minus cumulative sales, clamped at zero.
type InventorySnapshot struct {
	ItemID    string          `json:"item_id"`
	ItemName  string          `json:"item_name,omitempty"`
	Produced  int             `json:"produced"`
	Sold      int             `json:"sold"`
	Available int             `json:"available"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type InventoryResult struct {
	Window    ShiftWindow         `json:"window"`
	Source    SourceDecision      `json:"source"`
	Items     []InventorySnapshot `json:"items"`
	Degraded  bool                `json:"degraded"`
	FetchedAt time.Time           `json:"fetched_at"`
}

type RecordSet string

const (
	SetProduction RecordSet = "production"
	SetSales      RecordSet = "sales"
)

type Source string

const (
	SourceLive     Source = "live"
	SourceArchived Source = "archived"
)

type SourceDecision struct {
	Source Source `json:"source,omitempty"`
	Reason string `json:"reason"`
	Empty  bool   `json:"empty"`
}

const (
	SourceReasonLive     = "live"
	SourceReasonArchived = "archived"
	SourceReasonExtended = "extended"
	SourceReasonEmpty    = "empty"
)

type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

type ChangeEvent struct {
	Op      ChangeOp  `json:"op"`
	Set     RecordSet `json:"set"`
	ShiftID ShiftID   `json:"shift_id"`
	At      time.Time `json:"at"`
}

type ReportLine struct {
	ItemID    string          `json:"item_id"`
	ItemName  string          `json:"item_name,omitempty"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ReportKey is the logical primary key of a shift report. Exactly one report
// row exists per key; the storage layer enforces this with a unique
// constraint.
type ReportKey struct {
	OwnerID    string  `json:"owner_id"`
	ShiftID    ShiftID `json:"shift_id"`
	ReportDate string  `json:"report_date"`
}

type ShiftReport struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	ShiftID           ShiftID         `json:"shift_id"`
	ReportDate        string          `json:"report_date"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	TotalItemsSold    int             `json:"total_items_sold"`
	TotalRemaining    int             `json:"total_remaining"`
	Feedback          string          `json:"feedback,omitempty"`
	SalesSnapshot     []ReportLine    `json:"sales_snapshot"`
	RemainingSnapshot []ReportLine    `json:"remaining_snapshot"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (r ShiftReport) Key() ReportKey {
	return ReportKey{OwnerID: r.OwnerID, ShiftID: r.ShiftID, ReportDate: r.ReportDate}
}

type ShiftReportInput struct {
	OwnerID           string          `json:"owner_id"`
	ShiftID           ShiftID         `json:"shift_id" validate:"required,oneof=morning night"`
	ReportDate        string          `json:"report_date" validate:"required,datetime=2006-01-02"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	TotalItemsSold    int             `json:"total_items_sold" validate:"gte=0"`
	TotalRemaining    int             `json:"total_remaining" validate:"gte=0"`
	Feedback          string          `json:"feedback"`
	SalesSnapshot     []ReportLine    `json:"sales_snapshot"`
	RemainingSnapshot []ReportLine    `json:"remaining_snapshot"`
}

func (in ShiftReportInput) Key() ReportKey {
	return ReportKey{OwnerID: in.OwnerID, ShiftID: in.ShiftID, ReportDate: in.ReportDate}
}

type SubmitResult struct {
	Report     ShiftReport `json:"report"`
	WasUpdated bool        `json:"was_updated"`
}

type ConflictKind string

const (
	ConflictNone      ConflictKind = "none"
	ConflictIdentical ConflictKind = "identical"
	ConflictDivergent ConflictKind = "divergent"
)

// ConflictRecord is transient: produced by the conflict check, consumed
// immediately by the submit path, never persisted.
type ConflictRecord struct {
	Exists           bool
	Kind             ConflictKind
	ExistingReportID string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type OperatorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type OperatorUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
