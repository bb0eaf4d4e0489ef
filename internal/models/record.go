package models

import "time"

type UsageMode string

const (
	UsageStandard UsageMode = "standard"
	UsageNotUsed  UsageMode = "no_used"
	UsageOther    UsageMode = "other"
)

// DeliveryRecord is one day's parcel counts for a vehicle.
type DeliveryRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"index;not null" json:"organization_id"`
	VehicleID      uint      `gorm:"index;not null" json:"vehicle_id"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	EntryDate      time.Time `gorm:"type:date;index;not null" json:"entry_date"`

	Loaded     int `gorm:"not null" json:"loaded"`
	Collected  int `gorm:"not null" json:"collected"`
	Cutters    int `gorm:"not null" json:"cutters"`
	Returned   int `gorm:"not null" json:"returned"`
	Missplaced int `gorm:"not null" json:"missplaced"`

	Expense      float64 `gorm:"type:numeric(12,2);not null" json:"expense"`
	ExpenseNoVat float64 `gorm:"type:numeric(12,2);not null" json:"expense_no_vat"`
	OdometerEnd  *int    `json:"odometer"`
	Note         string  `gorm:"type:text" json:"note"`

	// LegacyImagePath holds the pre-migration image column (JSON array or bare path).
	LegacyImagePath *string `gorm:"column:image_path;type:text" json:"-"`

	Images []RecordImage    `gorm:"foreignKey:RecordID;constraint:OnDelete:CASCADE" json:"-"`
	Usage  *VehicleUsageLog `gorm:"foreignKey:RecordID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DeliveryRecord) TableName() string { return "records" }

// Delivered is loaded minus everything that came back. A negative result is
// reported as 0 with negative=true so callers can warn about it.
func (r DeliveryRecord) Delivered() (delivered int, negative bool) {
	raw := r.Loaded - (r.Collected + r.Cutters) - (r.Returned + r.Missplaced)
	if raw < 0 {
		return 0, true
	}
	return raw, false
}

// CollectedTotal counts cutters as collected items.
func (r DeliveryRecord) CollectedTotal() int {
	return r.Collected + r.Cutters
}

type RecordImage struct {
	ID        uint   `gorm:"primaryKey"`
	RecordID  uint   `gorm:"index;not null"`
	Path      string `gorm:"size:255;not null"`
	Position  int    `gorm:"not null"`
	CreatedAt time.Time
}

// VehicleUsageLog describes how the vehicle was used on the record's day.
// Exactly one row exists per record; it is replaced, never patched.
type VehicleUsageLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	RecordID       uint      `gorm:"uniqueIndex;not null" json:"record_id"`
	VehicleID      uint      `gorm:"index;not null" json:"vehicle_id"`
	UserID         uint      `gorm:"not null" json:"user_id"`
	EntryDate      time.Time `gorm:"type:date;index;not null" json:"entry_date"`
	UsageMode      UsageMode `gorm:"size:16;not null" json:"usage_mode"`
	OdometerStart  *int      `json:"odometer_start"`
	OdometerEnd    *int      `json:"odometer_end"`
	DistanceManual *int      `json:"distance_manual"`
	Purpose        string    `gorm:"size:255" json:"purpose"`
	CreatedAt      time.Time `json:"created_at"`
}

func (VehicleUsageLog) TableName() string { return "vehicle_usage_log" }

// Invoice is the generated header for one organization and billing month.
type Invoice struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	OrganizationID   uint      `gorm:"uniqueIndex:idx_invoice_period;not null" json:"organization_id"`
	Year             int       `gorm:"uniqueIndex:idx_invoice_period;not null" json:"year"`
	Month            int       `gorm:"uniqueIndex:idx_invoice_period;not null" json:"month"`
	ClientID         *uint     `json:"client_id"`
	Number           string    `gorm:"size:20;not null" json:"number"`
	IssuedOn         time.Time `gorm:"type:date;not null" json:"issued_on"`
	DueOn            time.Time `gorm:"type:date;not null" json:"due_on"`
	TotalDeliveries  int       `json:"total_deliveries"`
	TotalCollections int       `json:"total_collections"`
	Subtotal         float64   `gorm:"type:numeric(12,2)" json:"subtotal"`
	Tax              float64   `gorm:"type:numeric(12,2)" json:"tax"`
	Total            float64   `gorm:"type:numeric(12,2)" json:"total"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
