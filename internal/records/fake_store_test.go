package records

import (
	"context"
	"sort"
	"time"

	"delivery-backend/internal/audit"
	"delivery-backend/internal/models"
)

type fakeVehicle struct {
	orgID  uint
	active bool
}

// fakeStore keeps everything in maps. WithTx restores the previous state
// when fn fails.
type fakeStore struct {
	records  map[uint]models.DeliveryRecord
	images   map[uint][]string
	usage    map[uint]models.VehicleUsageLog
	vehicles map[uint]fakeVehicle
	audits   []audit.LogOptions

	nextID    uint
	usageID   uint
	auditErr  error
	txCount   int
	listCalls []ListFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  map[uint]models.DeliveryRecord{},
		images:   map[uint][]string{},
		usage:    map[uint]models.VehicleUsageLog{},
		vehicles: map[uint]fakeVehicle{},
	}
}

func (f *fakeStore) snapshot() *fakeStore {
	cp := *f
	cp.records = map[uint]models.DeliveryRecord{}
	for k, v := range f.records {
		cp.records[k] = v
	}
	cp.images = map[uint][]string{}
	for k, v := range f.images {
		cp.images[k] = append([]string(nil), v...)
	}
	cp.usage = map[uint]models.VehicleUsageLog{}
	for k, v := range f.usage {
		cp.usage[k] = v
	}
	cp.audits = append([]audit.LogOptions(nil), f.audits...)
	return &cp
}

func (f *fakeStore) WithTx(_ context.Context, fn func(tx Store) error) error {
	f.txCount++
	saved := f.snapshot()
	if err := fn(f); err != nil {
		f.records, f.images, f.usage, f.audits = saved.records, saved.images, saved.usage, saved.audits
		f.nextID, f.usageID = saved.nextID, saved.usageID
		return err
	}
	return nil
}

func (f *fakeStore) CreateRecord(_ context.Context, r *models.DeliveryRecord) error {
	f.nextID++
	r.ID = f.nextID
	cp := *r
	cp.Images, cp.Usage = nil, nil
	f.records[r.ID] = cp
	return nil
}

func (f *fakeStore) UpdateRecord(_ context.Context, r *models.DeliveryRecord) error {
	if _, ok := f.records[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	cp.Images, cp.Usage = nil, nil
	f.records[r.ID] = cp
	return nil
}

func (f *fakeStore) DeleteRecord(_ context.Context, id uint) error {
	if _, ok := f.records[id]; !ok {
		return ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeStore) load(id uint) models.DeliveryRecord {
	r := f.records[id]
	for i, p := range f.images[id] {
		r.Images = append(r.Images, models.RecordImage{RecordID: id, Path: p, Position: i})
	}
	if u, ok := f.usage[id]; ok {
		r.Usage = &u
	}
	return r
}

func (f *fakeStore) GetRecord(_ context.Context, orgID *uint, id uint) (*models.DeliveryRecord, error) {
	r, ok := f.records[id]
	if !ok || (orgID != nil && r.OrganizationID != *orgID) {
		return nil, ErrNotFound
	}
	full := f.load(id)
	return &full, nil
}

func (f *fakeStore) ListRecords(_ context.Context, lf ListFilter) ([]models.DeliveryRecord, error) {
	f.listCalls = append(f.listCalls, lf)
	var out []models.DeliveryRecord
	for id, r := range f.records {
		switch {
		case lf.OrganizationID != nil && r.OrganizationID != *lf.OrganizationID:
		case lf.VehicleID != nil && r.VehicleID != *lf.VehicleID:
		case lf.From != nil && r.EntryDate.Before(*lf.From):
		case lf.To != nil && !r.EntryDate.Before(*lf.To):
		default:
			out = append(out, f.load(id))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.After(out[j].EntryDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeStore) PreviousOdometer(_ context.Context, vehicleID uint, before time.Time) (*int, error) {
	var best *models.VehicleUsageLog
	for _, u := range f.usage {
		u := u
		if u.VehicleID != vehicleID || !u.EntryDate.Before(before) || u.OdometerEnd == nil {
			continue
		}
		if best == nil || u.EntryDate.After(best.EntryDate) ||
			(u.EntryDate.Equal(best.EntryDate) && u.RecordID > best.RecordID) {
			best = &u
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.OdometerEnd, nil
}

func (f *fakeStore) ReplaceUsage(_ context.Context, u *models.VehicleUsageLog) error {
	f.usageID++
	u.ID = f.usageID
	f.usage[u.RecordID] = *u
	return nil
}

func (f *fakeStore) DeleteUsage(_ context.Context, recordID uint) error {
	delete(f.usage, recordID)
	return nil
}

func (f *fakeStore) UsageByDate(_ context.Context, orgID *uint, date time.Time) ([]models.VehicleUsageLog, error) {
	var out []models.VehicleUsageLog
	for id, u := range f.usage {
		if !u.EntryDate.Equal(date) {
			continue
		}
		if orgID != nil && f.records[id].OrganizationID != *orgID {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeStore) ReplaceImages(_ context.Context, recordID uint, paths []string) error {
	if len(paths) == 0 {
		delete(f.images, recordID)
		return nil
	}
	f.images[recordID] = append([]string(nil), paths...)
	return nil
}

func (f *fakeStore) DeleteImages(_ context.Context, recordID uint) error {
	delete(f.images, recordID)
	return nil
}

func (f *fakeStore) DefaultVehicleID(_ context.Context, orgID uint) (uint, error) {
	var best uint
	for id, v := range f.vehicles {
		if v.orgID == orgID && v.active && (best == 0 || id < best) {
			best = id
		}
	}
	if best == 0 {
		return 0, ErrNoVehicle
	}
	return best, nil
}

func (f *fakeStore) VehicleInOrg(_ context.Context, orgID, vehicleID uint) (bool, error) {
	v, ok := f.vehicles[vehicleID]
	return ok && v.orgID == orgID, nil
}

func (f *fakeStore) WriteAudit(_ context.Context, opts audit.LogOptions) error {
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audits = append(f.audits, opts)
	return nil
}
