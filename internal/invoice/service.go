package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delivery-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrClientNotFound = errors.New("client not found")

type Store interface {
	// Records returns the organization's records with from <= entry_date < to.
	Records(ctx context.Context, orgID uint, from, to time.Time) ([]models.DeliveryRecord, error)
	SaveInvoice(ctx context.Context, h *models.Invoice) error
	Client(ctx context.Context, orgID, id uint) (*models.Client, error)
	Organization(ctx context.Context, id uint) (*models.Organization, error)
}

// Options tune one invoice generation.
type Options struct {
	ClientID  *uint
	DueDays   *int
	Overrides Parties
	// Persist upserts the invoice header for the billing month.
	Persist bool
}

// Document is a computed invoice with everything needed to render it.
type Document struct {
	Invoice Invoice                 `json:"invoice"`
	Parties Parties                 `json:"parties"`
	Records []models.DeliveryRecord `json:"records"`
}

type Service struct {
	store   Store
	pricing Pricing
	company Parties
	now     func() time.Time
}

// NewService takes the configured issuer block; organizations fill in any
// part of it that is left empty.
func NewService(store Store, pricing Pricing, company Parties, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, pricing: pricing, company: company, now: now}
}

func (s *Service) Now() time.Time { return s.now() }

func monthRange(year, month int) (time.Time, time.Time) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

func (s *Service) parties(ctx context.Context, orgID uint, opts Options) (Parties, error) {
	base := s.company
	org, err := s.store.Organization(ctx, orgID)
	if err != nil {
		return Parties{}, fmt.Errorf("load organization: %w", err)
	}
	if org != nil {
		base = Parties{Company: Party{Name: org.Name, Address: org.Address, VatNumber: org.VatNumber}}.Merge(base)
	}
	if opts.ClientID != nil {
		c, err := s.store.Client(ctx, orgID, *opts.ClientID)
		if err != nil {
			return Parties{}, err
		}
		base.Receiver = ClientParty(c)
	}
	return base.Merge(opts.Overrides), nil
}

func (s *Service) Generate(ctx context.Context, orgID uint, year, month int, opts Options) (*Document, error) {
	from, to := monthRange(year, month)
	records, err := s.store.Records(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	parties, err := s.parties(ctx, orgID, opts)
	if err != nil {
		return nil, err
	}

	pricing := s.pricing
	if opts.DueDays != nil && *opts.DueDays >= 0 {
		pricing.DueDays = *opts.DueDays
	}
	inv := Compute(records, year, month, pricing, s.now())

	if opts.Persist {
		h := inv.Header(orgID, opts.ClientID)
		if err := s.store.SaveInvoice(ctx, &h); err != nil {
			return nil, fmt.Errorf("save invoice: %w", err)
		}
	}
	if records == nil {
		records = []models.DeliveryRecord{}
	}
	return &Document{Invoice: inv, Parties: parties, Records: records}, nil
}

func (s *Service) Summaries(ctx context.Context, orgID uint, year int) ([]Invoice, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	records, err := s.store.Records(ctx, orgID, from, from.AddDate(1, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return YearSummaries(records, year, s.pricing, s.now()), nil
}

// Analytics summarises a month, or the whole year when month is 0.
func (s *Service) Analytics(ctx context.Context, orgID uint, year, month int) (Analytics, error) {
	var from, to time.Time
	if month == 0 {
		from = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		to = from.AddDate(1, 0, 0)
	} else {
		from, to = monthRange(year, month)
	}
	records, err := s.store.Records(ctx, orgID, from, to)
	if err != nil {
		return Analytics{}, fmt.Errorf("load records: %w", err)
	}
	return Analyze(records, s.pricing), nil
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Records(ctx context.Context, orgID uint, from, to time.Time) ([]models.DeliveryRecord, error) {
	var out []models.DeliveryRecord
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND entry_date >= ? AND entry_date < ?", orgID, from, to).
		Order("entry_date ASC, id ASC").
		Find(&out).Error
	return out, err
}

// SaveInvoice inserts the header or refreshes the existing one for the
// same organization and month.
func (s *GormStore) SaveInvoice(ctx context.Context, h *models.Invoice) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "organization_id"}, {Name: "year"}, {Name: "month"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"client_id", "number", "issued_on", "due_on", "total_deliveries",
			"total_collections", "subtotal", "tax", "total", "updated_at",
		}),
	}).Create(h).Error
}

func (s *GormStore) Client(ctx context.Context, orgID, id uint) (*models.Client, error) {
	var c models.Client
	err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *GormStore) Organization(ctx context.Context, id uint) (*models.Organization, error) {
	var o models.Organization
	err := s.db.WithContext(ctx).Take(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
