package models

import "time"

// ItemStatus is the inspection outcome of a single check item.
type ItemStatus string

const (
	ItemStatusOK       ItemStatus = "OK"
	ItemStatusNOK      ItemStatus = "NOK"
	ItemStatusCritical ItemStatus = "CRITICAL"
	ItemStatusPending  ItemStatus = "PENDING"
	ItemStatusNA       ItemStatus = "NA"
)

// IsValid reports whether the status is a recognised value.
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusOK, ItemStatusNOK, ItemStatusCritical, ItemStatusPending, ItemStatusNA:
		return true
	}
	return false
}

// Completed reports whether the item has been evaluated.
func (s ItemStatus) Completed() bool {
	return s != ItemStatusPending && s != ""
}

// Criticality ranks how important a check item is for the client.
type Criticality string

const (
	CriticalityCritical  Criticality = "CRITICAL"
	CriticalityImportant Criticality = "IMPORTANT"
	CriticalityRoutine   Criticality = "ROUTINE"
	CriticalityNA        Criticality = "NA"
)

// IsValid reports whether the criticality is a recognised value.
func (c Criticality) IsValid() bool {
	switch c {
	case CriticalityCritical, CriticalityImportant, CriticalityRoutine, CriticalityNA:
		return true
	}
	return false
}

// SparePartUrgency tells the client how soon a part should be replaced.
type SparePartUrgency string

const (
	UrgencyImmediate SparePartUrgency = "IMMEDIATE"
	UrgencyShortTerm SparePartUrgency = "SHORT_TERM"
	UrgencyLongTerm  SparePartUrgency = "LONG_TERM"
)

// ClientInfo identifies the customer the check-up was performed for.
type ClientInfo struct {
	Name     string `json:"name" validate:"required"`
	Address  string `json:"address,omitempty"`
	Contact  string `json:"contact,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Facility string `json:"facility,omitempty"`
}

// TechnicianInfo identifies who performed the check-up.
type TechnicianInfo struct {
	Name    string `json:"name" validate:"required"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// IslandInfo describes the inspected robotic island.
type IslandInfo struct {
	Type         string `json:"type" validate:"required"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Model        string `json:"model,omitempty"`
	Location     string `json:"location,omitempty"`
	OperatingHrs int    `json:"operatingHours,omitempty"`
}

// CheckUpHeader holds the general information of a check-up.
type CheckUpHeader struct {
	ID              string         `json:"id"`
	Client          ClientInfo     `json:"client" validate:"required"`
	Technician      TechnicianInfo `json:"technician" validate:"required"`
	Island          IslandInfo     `json:"island" validate:"required"`
	ScheduledAt     *time.Time     `json:"scheduledAt,omitempty"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	Conclusions     string         `json:"conclusions,omitempty"`
	Recommendations string         `json:"recommendations,omitempty"`
}

// PhotoRef points at a photo captured for a check item.
type PhotoRef struct {
	Path       string    `json:"path" validate:"required"`
	Caption    string    `json:"caption,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	SizeBytes  int64     `json:"sizeBytes,omitempty"`
}

// CheckItem is one inspected point of a section.
type CheckItem struct {
	ID          string      `json:"id" validate:"required"`
	Title       string      `json:"title" validate:"required"`
	Status      ItemStatus  `json:"status" validate:"required,item_status"`
	Criticality Criticality `json:"criticality" validate:"omitempty,criticality"`
	Note        string      `json:"note,omitempty"`
	Photos      []PhotoRef  `json:"photos,omitempty" validate:"dive"`
}

// Section groups check items under a title such as "Sicurezza".
type Section struct {
	Title string      `json:"title" validate:"required"`
	Items []CheckItem `json:"items" validate:"dive"`
}

// SparePart is a replacement part recommended during the check-up.
type SparePart struct {
	PartNumber  string           `json:"partNumber"`
	Description string           `json:"description" validate:"required"`
	Quantity    int              `json:"quantity" validate:"gte=0"`
	Urgency     SparePartUrgency `json:"urgency"`
	Notes       string           `json:"notes,omitempty"`
}

// CheckUpAggregate is the full, read-only record of one inspection handed to
// the export engine.
type CheckUpAggregate struct {
	Header     CheckUpHeader `json:"header" validate:"required"`
	Sections   []Section     `json:"sections" validate:"dive"`
	SpareParts []SparePart   `json:"spareParts,omitempty" validate:"dive"`
}

// CheckUpStats summarises item outcomes for the executive summary.
type CheckUpStats struct {
	TotalItems     int
	CompletedItems int
	OKItems        int
	NOKItems       int
	CriticalItems  int
	PendingItems   int
	NAItems        int
	PhotoCount     int
}

// CompletionPercentage returns the share of evaluated items in percent.
func (s CheckUpStats) CompletionPercentage() float64 {
	if s.TotalItems == 0 {
		return 0
	}
	return float64(s.CompletedItems) * 100 / float64(s.TotalItems)
}

// Stats computes the summary counters in a single pass over items.
func (a *CheckUpAggregate) Stats() CheckUpStats {
	var stats CheckUpStats
	for _, section := range a.Sections {
		stats.add(section.Items)
	}
	return stats
}

// Stats computes the summary counters for this section only.
func (s Section) Stats() CheckUpStats {
	var stats CheckUpStats
	stats.add(s.Items)
	return stats
}

func (s *CheckUpStats) add(items []CheckItem) {
	for _, item := range items {
		s.TotalItems++
		s.PhotoCount += len(item.Photos)
		if item.Status.Completed() {
			s.CompletedItems++
		}
		switch item.Status {
		case ItemStatusOK:
			s.OKItems++
		case ItemStatusNOK:
			s.NOKItems++
		case ItemStatusCritical:
			s.CriticalItems++
		case ItemStatusPending:
			s.PendingItems++
		case ItemStatusNA:
			s.NAItems++
		}
	}
}

// PhotoCount returns the total number of photo references in the aggregate.
func (a *CheckUpAggregate) PhotoCount() int {
	total := 0
	for _, section := range a.Sections {
		for _, item := range section.Items {
			total += len(item.Photos)
		}
	}
	return total
}

// ItemCount returns the total number of check items in the aggregate.
func (a *CheckUpAggregate) ItemCount() int {
	total := 0
	for _, section := range a.Sections {
		total += len(section.Items)
	}
	return total
}
