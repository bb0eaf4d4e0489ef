package records

import (
	"strings"
	"time"

	"delivery-backend/internal/models"
)

const dateLayout = "2006-01-02"

// ValidationError carries a summary message and per-field messages for
// form feedback.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string { return e.Message }

// Form is the create/update payload as submitted by a JSON client or an
// HTML form (multipart when images are attached).
type Form struct {
	OrganizationID *uint    `json:"organization_id" form:"organization_id"`
	VehicleID      *uint    `json:"vehicle_id" form:"vehicle_id"`
	EntryDate      string   `json:"entry_date" form:"entry_date"`
	Loaded         *int     `json:"loaded" form:"loaded"`
	Collected      *int     `json:"collected" form:"collected"`
	Cutters        *int     `json:"cutters" form:"cutters"`
	Returned       *int     `json:"returned" form:"returned"`
	Missplaced     *int     `json:"missplaced" form:"missplaced"`
	Expense        *float64 `json:"expense" form:"expense"`
	ExpenseNoVat   *float64 `json:"expense_no_vat" form:"expense_no_vat"`
	Odometer       *int     `json:"odometer" form:"odometer"`
	Note           string   `json:"note" form:"note"`
	UsageMode      string   `json:"usage_mode" form:"usage_mode"`
	DistanceManual *int     `json:"distance_manual" form:"distance_manual"`
	Purpose        string   `json:"purpose" form:"purpose"`
	// KeepImages lists the current image paths to retain on update.
	KeepImages []string `json:"keep_images" form:"keep_images"`
}

// Input is a validated Form.
type Input struct {
	OrganizationID *uint
	VehicleID      *uint
	EntryDate      time.Time
	Loaded         int
	Collected      int
	Cutters        int
	Returned       int
	Missplaced     int
	Expense        float64
	ExpenseNoVat   float64
	Note           string
	Usage          Usage
}

func (in Input) odometerEnd() *int {
	if s, ok := in.Usage.(StandardUsage); ok {
		return s.OdometerEnd
	}
	return nil
}

func requiredCount(fields map[string]string, name string, v *int) int {
	if v == nil {
		fields[name] = "This field is required"
		return 0
	}
	if *v < 0 {
		fields[name] = "Must be zero or more"
		return 0
	}
	return *v
}

func optionalAmount(fields map[string]string, name string, v *float64) float64 {
	if v == nil {
		return 0
	}
	if *v < 0 {
		fields[name] = "Must be zero or more"
		return 0
	}
	return *v
}

// Validate checks a form. The entry date window (not in the future, at
// most one year back) is enforced only when checkWindow is set, which
// the service does for new records.
func Validate(f Form, now time.Time, checkWindow bool) (Input, error) {
	fields := map[string]string{}
	in := Input{
		OrganizationID: f.OrganizationID,
		VehicleID:      f.VehicleID,
		Note:           strings.TrimSpace(f.Note),
	}

	in.Loaded = requiredCount(fields, "loaded", f.Loaded)
	in.Collected = requiredCount(fields, "collected", f.Collected)
	in.Cutters = requiredCount(fields, "cutters", f.Cutters)
	in.Returned = requiredCount(fields, "returned", f.Returned)
	if f.Missplaced != nil {
		in.Missplaced = requiredCount(fields, "missplaced", f.Missplaced)
	}
	in.Expense = optionalAmount(fields, "expense", f.Expense)
	in.ExpenseNoVat = optionalAmount(fields, "expense_no_vat", f.ExpenseNoVat)

	date := strings.TrimSpace(f.EntryDate)
	if date == "" {
		fields["entry_date"] = "Entry date is required"
	} else if d, err := time.Parse(dateLayout, date); err != nil {
		fields["entry_date"] = "Invalid date format"
	} else {
		in.EntryDate = d
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		switch {
		case !checkWindow:
		case d.After(today):
			fields["entry_date"] = "Entry date cannot be in the future"
		case d.Before(today.AddDate(-1, 0, 0)):
			fields["entry_date"] = "Entry date cannot be more than one year ago"
		}
	}

	switch models.UsageMode(strings.TrimSpace(f.UsageMode)) {
	case "", models.UsageStandard:
		if f.Odometer != nil && *f.Odometer < 0 {
			fields["odometer"] = "Odometer reading cannot be negative"
		}
		in.Usage = StandardUsage{OdometerEnd: f.Odometer}
	case models.UsageNotUsed:
		in.Usage = NotUsed{}
	case models.UsageOther:
		var distance int
		if f.DistanceManual == nil {
			fields["distance_manual"] = "Distance is required"
		} else if *f.DistanceManual < 0 {
			fields["distance_manual"] = "Must be zero or more"
		} else {
			distance = *f.DistanceManual
		}
		purpose := strings.TrimSpace(f.Purpose)
		if purpose == "" {
			fields["purpose"] = "Purpose is required"
		}
		in.Usage = OtherUsage{Distance: distance, Purpose: purpose}
	default:
		fields["usage_mode"] = "Usage mode must be standard, no_used or other"
	}

	if len(fields) > 0 {
		return Input{}, &ValidationError{Message: "Please correct the highlighted fields", Fields: fields}
	}
	return in, nil
}
