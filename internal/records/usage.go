package records

import (
	"time"

	"delivery-backend/internal/models"
)

// Usage is how the vehicle was used on the record's day. Each mode carries
// only the fields that mean something for it.
type Usage interface {
	Mode() models.UsageMode
}

// StandardUsage is a normal delivery day; distance comes from the odometer.
type StandardUsage struct {
	OdometerEnd *int
}

// NotUsed means the vehicle stayed parked.
type NotUsed struct{}

// OtherUsage is a non-delivery trip with a manually entered distance.
type OtherUsage struct {
	Distance int
	Purpose  string
}

func (StandardUsage) Mode() models.UsageMode { return models.UsageStandard }
func (NotUsed) Mode() models.UsageMode       { return models.UsageNotUsed }
func (OtherUsage) Mode() models.UsageMode    { return models.UsageOther }

// usageRow builds the log row for a record. odometerStart is the previous
// reading of the vehicle and only matters for standard usage.
func usageRow(rec *models.DeliveryRecord, u Usage, odometerStart *int, now time.Time) *models.VehicleUsageLog {
	row := &models.VehicleUsageLog{
		RecordID:  rec.ID,
		VehicleID: rec.VehicleID,
		UserID:    rec.UserID,
		EntryDate: rec.EntryDate,
		UsageMode: u.Mode(),
		CreatedAt: now,
	}
	switch v := u.(type) {
	case StandardUsage:
		row.OdometerEnd = v.OdometerEnd
		if v.OdometerEnd != nil {
			row.OdometerStart = odometerStart
		}
	case OtherUsage:
		d := v.Distance
		row.DistanceManual = &d
		row.Purpose = v.Purpose
	}
	return row
}
