package records

import (
	"context"
	"fmt"
	"time"

	"delivery-backend/internal/audit"
	"delivery-backend/internal/authz"
	"delivery-backend/internal/database"
	"delivery-backend/internal/models"

	"github.com/sirupsen/logrus"
)

// View is a record as the API returns it.
type View struct {
	models.DeliveryRecord
	Images         []string                `json:"images"`
	Delivered      int                     `json:"delivered"`
	CollectedTotal int                     `json:"collected_total"`
	Warnings       []string                `json:"warnings"`
	VehicleUsage   *models.VehicleUsageLog `json:"vehicle_usage,omitempty"`
}

// ListQuery selects records by month (Year/Month) or by an explicit
// From/To range. Month 0 with a Year lists the whole year.
type ListQuery struct {
	OrganizationID *uint
	VehicleID      *uint
	Year           int
	Month          int
	From           *time.Time
	To             *time.Time
}

type Service struct {
	store Store
	files Files
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store Store, files Files, log logrus.FieldLogger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, files: files, log: log, now: now}
}

func (s *Service) Now() time.Time { return s.now() }

// imagePaths lists a record's images, falling back to the legacy column
// for rows the migration has not touched yet.
func imagePaths(r *models.DeliveryRecord) []string {
	out := make([]string, 0, len(r.Images))
	for _, img := range r.Images {
		out = append(out, img.Path)
	}
	if len(out) == 0 && r.LegacyImagePath != nil {
		out = append(out, database.ParseLegacyImagePaths(*r.LegacyImagePath)...)
	}
	return out
}

func newView(r *models.DeliveryRecord, withUsage bool) View {
	v := View{
		DeliveryRecord: *r,
		Images:         imagePaths(r),
		CollectedTotal: r.CollectedTotal(),
		Warnings:       []string{},
	}
	delivered, negative := r.Delivered()
	v.Delivered = delivered
	if negative {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"Loaded (%d) is lower than collected, cutters, returned and missplaced combined; delivered counted as 0",
			r.Loaded))
	}
	if withUsage {
		v.VehicleUsage = r.Usage
	}
	return v
}

// recordScope is the organization filter for reads and writes of a single
// record: nil for super admins, the actor's own organization otherwise.
func recordScope(actor *models.User) (*uint, error) {
	if actor.Role == models.RoleSuperAdmin {
		return nil, nil
	}
	org, err := authz.ResolveOrg(actor, nil)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *Service) checkUploads(uploads []Upload) error {
	for _, u := range uploads {
		if err := s.files.Check(u); err != nil {
			return &ValidationError{
				Message: err.Error(),
				Fields:  map[string]string{"images": err.Error()},
			}
		}
	}
	return nil
}

func (s *Service) saveUploads(date time.Time, uploads []Upload) ([]string, error) {
	saved := make([]string, 0, len(uploads))
	for _, u := range uploads {
		p, err := s.files.Save(date, u)
		if err != nil {
			s.removeFiles(saved)
			return nil, fmt.Errorf("save image %q: %w", u.Filename, err)
		}
		saved = append(saved, p)
	}
	return saved, nil
}

func (s *Service) removeFiles(paths []string) {
	for _, p := range paths {
		if err := s.files.Remove(p); err != nil {
			s.log.WithError(err).WithField("path", p).Warn("could not remove record image")
		}
	}
}

func (s *Service) resolveVehicle(ctx context.Context, orgID uint, requested *uint) (uint, error) {
	if requested == nil || *requested == 0 {
		return s.store.DefaultVehicleID(ctx, orgID)
	}
	ok, err := s.store.VehicleInOrg(ctx, orgID, *requested)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &ValidationError{
			Message: "Please correct the highlighted fields",
			Fields:  map[string]string{"vehicle_id": "Unknown vehicle"},
		}
	}
	return *requested, nil
}

// writeUsage replaces the record's usage row. Standard usage with an
// odometer reading starts from the vehicle's previous reading.
func writeUsage(ctx context.Context, tx Store, rec *models.DeliveryRecord, u Usage, now time.Time) (*models.VehicleUsageLog, error) {
	var start *int
	if su, ok := u.(StandardUsage); ok && su.OdometerEnd != nil {
		prev, err := tx.PreviousOdometer(ctx, rec.VehicleID, rec.EntryDate)
		if err != nil {
			return nil, fmt.Errorf("previous odometer: %w", err)
		}
		start = prev
	}
	row := usageRow(rec, u, start, now)
	if err := tx.ReplaceUsage(ctx, row); err != nil {
		return nil, fmt.Errorf("write vehicle usage: %w", err)
	}
	return row, nil
}

func imageRows(recordID uint, paths []string) []models.RecordImage {
	out := make([]models.RecordImage, 0, len(paths))
	for i, p := range paths {
		out = append(out, models.RecordImage{RecordID: recordID, Path: p, Position: i})
	}
	return out
}

func (s *Service) Create(ctx context.Context, actor *models.User, in Input, uploads []Upload) (*View, error) {
	if _, err := authz.RequireRoleAtLeast(actor, models.RoleDriver); err != nil {
		return nil, err
	}
	orgID, err := authz.ResolveOrg(actor, in.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkUploads(uploads); err != nil {
		return nil, err
	}
	vehicleID, err := s.resolveVehicle(ctx, orgID, in.VehicleID)
	if err != nil {
		return nil, err
	}

	saved, err := s.saveUploads(in.EntryDate, uploads)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &models.DeliveryRecord{
		OrganizationID: orgID,
		VehicleID:      vehicleID,
		UserID:         actor.ID,
		EntryDate:      in.EntryDate,
		Loaded:         in.Loaded,
		Collected:      in.Collected,
		Cutters:        in.Cutters,
		Returned:       in.Returned,
		Missplaced:     in.Missplaced,
		Expense:        in.Expense,
		ExpenseNoVat:   in.ExpenseNoVat,
		OdometerEnd:    in.odometerEnd(),
		Note:           in.Note,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateRecord(ctx, rec); err != nil {
			return fmt.Errorf("create record: %w", err)
		}
		if err := tx.ReplaceImages(ctx, rec.ID, saved); err != nil {
			return fmt.Errorf("save record images: %w", err)
		}
		usage, err := writeUsage(ctx, tx, rec, in.Usage, now)
		if err != nil {
			return err
		}
		rec.Images = imageRows(rec.ID, saved)
		rec.Usage = usage
		return tx.WriteAudit(ctx, audit.LogOptions{
			OrganizationID: &rec.OrganizationID,
			UserID:         actor.ID,
			UserName:       actor.FullName(),
			EntityType:     "record",
			EntityID:       rec.ID,
			Action:         models.AuditActionCreate,
			Description:    "Created record for " + rec.EntryDate.Format(dateLayout),
			After:          newView(rec, true),
		})
	})
	if err != nil {
		s.removeFiles(saved)
		return nil, err
	}

	v := newView(rec, true)
	return &v, nil
}

// keptImages returns the entries of keep that are current images, in the
// order given and without duplicates. A nil keep retains everything.
func keptImages(current, keep []string) []string {
	if keep == nil {
		return append([]string(nil), current...)
	}
	have := make(map[string]bool, len(current))
	for _, p := range current {
		have[p] = true
	}
	out := []string{}
	for _, p := range keep {
		if have[p] {
			out = append(out, p)
			delete(have, p)
		}
	}
	return out
}

func without(all, drop []string) []string {
	skip := make(map[string]bool, len(drop))
	for _, p := range drop {
		skip[p] = true
	}
	var out []string
	for _, p := range all {
		if !skip[p] {
			out = append(out, p)
		}
	}
	return out
}

// Update replaces a record's values. Images become the kept subset of the
// current ones plus the new uploads; files no longer referenced are removed
// after the transaction commits.
func (s *Service) Update(ctx context.Context, actor *models.User, id uint, in Input, keep []string, uploads []Upload) (*View, error) {
	if _, err := authz.RequireRoleAtLeast(actor, models.RoleDriver); err != nil {
		return nil, err
	}
	scope, err := recordScope(actor)
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetRecord(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkUploads(uploads); err != nil {
		return nil, err
	}

	vehicleID := current.VehicleID
	if in.VehicleID != nil && *in.VehicleID != current.VehicleID {
		if vehicleID, err = s.resolveVehicle(ctx, current.OrganizationID, in.VehicleID); err != nil {
			return nil, err
		}
	}

	before := newView(current, true)
	currentPaths := imagePaths(current)
	kept := keptImages(currentPaths, keep)
	removed := without(currentPaths, kept)

	saved, err := s.saveUploads(in.EntryDate, uploads)
	if err != nil {
		return nil, err
	}
	paths := append(kept, saved...)

	now := s.now()
	rec := *current
	rec.VehicleID = vehicleID
	rec.EntryDate = in.EntryDate
	rec.Loaded = in.Loaded
	rec.Collected = in.Collected
	rec.Cutters = in.Cutters
	rec.Returned = in.Returned
	rec.Missplaced = in.Missplaced
	rec.Expense = in.Expense
	rec.ExpenseNoVat = in.ExpenseNoVat
	rec.OdometerEnd = in.odometerEnd()
	rec.Note = in.Note
	rec.LegacyImagePath = nil
	rec.UpdatedAt = now

	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.UpdateRecord(ctx, &rec); err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		if err := tx.ReplaceImages(ctx, rec.ID, paths); err != nil {
			return fmt.Errorf("save record images: %w", err)
		}
		usage, err := writeUsage(ctx, tx, &rec, in.Usage, now)
		if err != nil {
			return err
		}
		rec.Images = imageRows(rec.ID, paths)
		rec.Usage = usage
		return tx.WriteAudit(ctx, audit.LogOptions{
			OrganizationID: &rec.OrganizationID,
			UserID:         actor.ID,
			UserName:       actor.FullName(),
			EntityType:     "record",
			EntityID:       rec.ID,
			Action:         models.AuditActionUpdate,
			Description:    "Updated record for " + rec.EntryDate.Format(dateLayout),
			Before:         before,
			After:          newView(&rec, true),
		})
	})
	if err != nil {
		s.removeFiles(saved)
		return nil, err
	}

	s.removeFiles(removed)
	v := newView(&rec, true)
	return &v, nil
}

// Delete removes the record with its usage and image rows in one
// transaction, then deletes the image files. File errors are only logged.
func (s *Service) Delete(ctx context.Context, actor *models.User, id uint) error {
	if _, err := authz.RequireRoleAtLeast(actor, models.RoleDriver); err != nil {
		return err
	}
	scope, err := recordScope(actor)
	if err != nil {
		return err
	}
	current, err := s.store.GetRecord(ctx, scope, id)
	if err != nil {
		return err
	}
	paths := imagePaths(current)

	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.DeleteUsage(ctx, id); err != nil {
			return fmt.Errorf("delete vehicle usage: %w", err)
		}
		if err := tx.DeleteImages(ctx, id); err != nil {
			return fmt.Errorf("delete record images: %w", err)
		}
		if err := tx.DeleteRecord(ctx, id); err != nil {
			return err
		}
		return tx.WriteAudit(ctx, audit.LogOptions{
			OrganizationID: &current.OrganizationID,
			UserID:         actor.ID,
			UserName:       actor.FullName(),
			EntityType:     "record",
			EntityID:       id,
			Action:         models.AuditActionDelete,
			Description:    "Deleted record for " + current.EntryDate.Format(dateLayout),
			Before:         newView(current, true),
		})
	})
	if err != nil {
		return err
	}

	s.removeFiles(paths)
	return nil
}

func (s *Service) get(ctx context.Context, actor *models.User, id uint, withUsage bool) (*View, error) {
	if _, err := authz.RequireRoleAtLeast(actor, models.RoleViewer); err != nil {
		return nil, err
	}
	scope, err := recordScope(actor)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.GetRecord(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	v := newView(rec, withUsage)
	return &v, nil
}

func (s *Service) Get(ctx context.Context, actor *models.User, id uint) (*View, error) {
	return s.get(ctx, actor, id, false)
}

// GetFull is Get plus the record's vehicle usage entry.
func (s *Service) GetFull(ctx context.Context, actor *models.User, id uint) (*View, error) {
	return s.get(ctx, actor, id, true)
}

func (s *Service) List(ctx context.Context, actor *models.User, q ListQuery) ([]View, error) {
	if _, err := authz.RequireRoleAtLeast(actor, models.RoleViewer); err != nil {
		return nil, err
	}
	f := ListFilter{VehicleID: q.VehicleID, From: q.From, To: q.To}
	if actor.Role == models.RoleSuperAdmin {
		f.OrganizationID = q.OrganizationID
	} else {
		org, err := authz.ResolveOrg(actor, q.OrganizationID)
		if err != nil {
			return nil, err
		}
		f.OrganizationID = &org
	}
	if q.Year > 0 {
		var from, to time.Time
		if q.Month > 0 {
			from = time.Date(q.Year, time.Month(q.Month), 1, 0, 0, 0, 0, time.UTC)
			to = from.AddDate(0, 1, 0)
		} else {
			from = time.Date(q.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
			to = from.AddDate(1, 0, 0)
		}
		f.From, f.To = &from, &to
	}

	rows, err := s.store.ListRecords(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := make([]View, 0, len(rows))
	for i := range rows {
		out = append(out, newView(&rows[i], false))
	}
	return out, nil
}

// UsageByDate lists the vehicle usage entries of one day.
func (s *Service) UsageByDate(ctx context.Context, actor *models.User, date time.Time) ([]models.VehicleUsageLog, error) {
	if _, err := authz.RequireRoleAtLeast(actor, models.RoleViewer); err != nil {
		return nil, err
	}
	scope, err := recordScope(actor)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.UsageByDate(ctx, scope, date)
	if err != nil {
		return nil, fmt.Errorf("usage by date: %w", err)
	}
	if rows == nil {
		rows = []models.VehicleUsageLog{}
	}
	return rows, nil
}
