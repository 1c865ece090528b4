package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"rotikita/backend/internal/domain"
	"rotikita/backend/internal/store"
	"rotikita/backend/internal/xid"
)

// Store is the in-memory repository used for dev mode and tests. It mirrors
// the storage collaborator's semantics: two append-only record streams with a
// live and an archived location each, a report table with a unique
// (owner, shift, date) key, and a best-effort change feed.
type Store struct {
	mu            sync.RWMutex
	production    map[domain.Source][]domain.ProductionRecord
	sales         map[domain.Source][]domain.SaleRecord
	reportsByID   map[string]domain.ShiftReport
	reportIDByKey map[domain.ReportKey]string
	users         map[string]domain.UserAccount

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]subscriber
}

type subscriber struct {
	sets map[domain.RecordSet]bool
	ch   chan domain.ChangeEvent
}

func New() *Store {
	return &Store{
		production: map[domain.Source][]domain.ProductionRecord{
			domain.SourceLive:     {},
			domain.SourceArchived: {},
		},
		sales: map[domain.Source][]domain.SaleRecord{
			domain.SourceLive:     {},
			domain.SourceArchived: {},
		},
		reportsByID:   make(map[string]domain.ShiftReport),
		reportIDByKey: make(map[domain.ReportKey]string),
		users:         make(map[string]domain.UserAccount),
		subs:          make(map[int]subscriber),
	}
}

// NewSeeded returns a store pre-loaded with dev users.
func NewSeeded() *Store {
	s := New()
	s.users = seedUsers()
	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. Production
// deployments use PostgreSQL and never touch this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"operator", operatorPwd, "operator"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func inFilter(createdAt time.Time, shiftID domain.ShiftID, filter store.RecordFilter) bool {
	if filter.ShiftID != "" && shiftID != filter.ShiftID {
		return false
	}
	if createdAt.Before(filter.From) || !createdAt.Before(filter.To) {
		return false
	}
	return true
}

func (s *Store) QueryProduction(_ context.Context, source domain.Source, filter store.RecordFilter) ([]domain.ProductionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ProductionRecord, 0, 16)
	for _, rec := range s.production[source] {
		if inFilter(rec.CreatedAt, rec.ShiftID, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) QuerySales(_ context.Context, source domain.Source, filter store.RecordFilter) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SaleRecord, 0, 16)
	for _, rec := range s.sales[source] {
		if inFilter(rec.CreatedAt, rec.ShiftID, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) CountRecords(ctx context.Context, set domain.RecordSet, source domain.Source, filter store.RecordFilter) (int, error) {
	switch set {
	case domain.SetProduction:
		recs, err := s.QueryProduction(ctx, source, filter)
		if err != nil {
			return 0, err
		}
		return len(recs), nil
	case domain.SetSales:
		recs, err := s.QuerySales(ctx, source, filter)
		if err != nil {
			return 0, err
		}
		return len(recs), nil
	default:
		return 0, store.ErrInvalidInput
	}
}

func (s *Store) InsertProduction(_ context.Context, rec domain.ProductionRecord) (*domain.ProductionRecord, error) {
	if rec.ItemID == "" || rec.Qty < 1 || rec.ShiftID == "" {
		return nil, store.ErrInvalidInput
	}
	if rec.ID == "" {
		rec.ID = xid.New("prod")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.production[domain.SourceLive] = append(s.production[domain.SourceLive], rec)
	s.mu.Unlock()

	s.publish(domain.ChangeEvent{Op: domain.ChangeInsert, Set: domain.SetProduction, ShiftID: rec.ShiftID, At: rec.CreatedAt})
	return &rec, nil
}

func (s *Store) InsertSale(_ context.Context, rec domain.SaleRecord) (*domain.SaleRecord, error) {
	if rec.ItemID == "" || rec.Qty < 1 || rec.ShiftID == "" {
		return nil, store.ErrInvalidInput
	}
	if rec.ID == "" {
		rec.ID = xid.New("sale")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.sales[domain.SourceLive] = append(s.sales[domain.SourceLive], rec)
	s.mu.Unlock()

	s.publish(domain.ChangeEvent{Op: domain.ChangeInsert, Set: domain.SetSales, ShiftID: rec.ShiftID, At: rec.CreatedAt})
	return &rec, nil
}

// ArchiveProduction appends directly to the archived set. Test helper for
// rotation scenarios.
func (s *Store) ArchiveProduction(rec domain.ProductionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.production[domain.SourceArchived] = append(s.production[domain.SourceArchived], rec)
}

// ArchiveSale appends directly to the archived set.
func (s *Store) ArchiveSale(rec domain.SaleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales[domain.SourceArchived] = append(s.sales[domain.SourceArchived], rec)
}

func (s *Store) GetReport(_ context.Context, key domain.ReportKey) (*domain.ShiftReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.reportIDByKey[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	report := s.reportsByID[id]
	return &report, nil
}

func (s *Store) InsertReport(_ context.Context, input domain.ShiftReportInput) (*domain.ShiftReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reportIDByKey[input.Key()]; exists {
		return nil, store.ErrDuplicateReport
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
	s.reportsByID[report.ID] = report
	s.reportIDByKey[report.Key()] = report.ID
	return &report, nil
}

func (s *Store) UpdateReport(_ context.Context, id string, input domain.ShiftReportInput) (*domain.ShiftReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.reportsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	existing.TotalRevenue = input.TotalRevenue
	existing.TotalItemsSold = input.TotalItemsSold
	existing.TotalRemaining = input.TotalRemaining
	existing.Feedback = input.Feedback
	existing.SalesSnapshot = input.SalesSnapshot
	existing.RemainingSnapshot = input.RemainingSnapshot
	existing.UpdatedAt = time.Now().UTC()

	s.reportsByID[id] = existing
	return &existing, nil
}

func (s *Store) ListReports(_ context.Context, ownerID string, limit int) ([]domain.ShiftReport, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	reports := make([]domain.ShiftReport, 0, len(s.reportsByID))
	for _, report := range s.reportsByID {
		if ownerID != "" && report.OwnerID != ownerID {
			continue
		}
		reports = append(reports, report)
	}
	s.mu.RUnlock()

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].ReportDate != reports[j].ReportDate {
			return reports[i].ReportDate > reports[j].ReportDate
		}
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
	if len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

func (s *Store) RotateLive(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()

	moved := 0
	keptProduction := s.production[domain.SourceLive][:0]
	for _, rec := range s.production[domain.SourceLive] {
		if rec.CreatedAt.Before(before) {
			s.production[domain.SourceArchived] = append(s.production[domain.SourceArchived], rec)
			moved++
		} else {
			keptProduction = append(keptProduction, rec)
		}
	}
	s.production[domain.SourceLive] = keptProduction

	keptSales := s.sales[domain.SourceLive][:0]
	for _, rec := range s.sales[domain.SourceLive] {
		if rec.CreatedAt.Before(before) {
			s.sales[domain.SourceArchived] = append(s.sales[domain.SourceArchived], rec)
			moved++
		} else {
			keptSales = append(keptSales, rec)
		}
	}
	s.sales[domain.SourceLive] = keptSales
	s.mu.Unlock()

	if moved > 0 {
		now := time.Now().UTC()
		s.publish(domain.ChangeEvent{Op: domain.ChangeUpdate, Set: domain.SetProduction, At: now})
		s.publish(domain.ChangeEvent{Op: domain.ChangeUpdate, Set: domain.SetSales, At: now})
	}
	return moved, nil
}

func (s *Store) SubscribeChanges(ctx context.Context, sets []domain.RecordSet) (<-chan domain.ChangeEvent, error) {
	wanted := make(map[domain.RecordSet]bool, len(sets))
	for _, set := range sets {
		wanted[set] = true
	}

	ch := make(chan domain.ChangeEvent, 32)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = subscriber{sets: wanted, ch: ch}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.ch)
		}
		s.subMu.Unlock()
	}()

	return ch, nil
}

// publish fans an event out to matching subscribers. Best effort: a full
// subscriber buffer drops the event, which is exactly the delivery contract
// consumers must tolerate.
func (s *Store) publish(event domain.ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subs {
		if len(sub.sets) > 0 && !sub.sets[event.Set] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.TrimSpace(user.Username)
	if username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
