package crm

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerType classifies a customer as a person or an organization.
type CustomerType string

const (
	CustomerIndividual CustomerType = "individual"
	CustomerBusiness   CustomerType = "business"
)

// CustomerStatus is the lifecycle stage of a customer.
type CustomerStatus string

const (
	StatusLead     CustomerStatus = "lead"
	StatusProspect CustomerStatus = "prospect"
	StatusActive   CustomerStatus = "active"
	StatusInactive CustomerStatus = "inactive"
	StatusChurned  CustomerStatus = "churned"
)

// CustomerSource records how a customer was acquired.
type CustomerSource string

const (
	SourceWebsite  CustomerSource = "website"
	SourceReferral CustomerSource = "referral"
	SourceWalkIn   CustomerSource = "walk_in"
	SourceSocial   CustomerSource = "social"
	SourceCampaign CustomerSource = "campaign"
	SourceImport   CustomerSource = "import"
	SourceOther    CustomerSource = "other"
)

// ContactType is the channel of a CustomerContact.
type ContactType string

const (
	ContactEmail  ContactType = "email"
	ContactPhone  ContactType = "phone"
	ContactMobile ContactType = "mobile"
	ContactFax    ContactType = "fax"
	ContactSocial ContactType = "social"
	ContactOther  ContactType = "other"
)

// AddressType is the purpose of a CustomerAddress.
type AddressType string

const (
	AddressBilling  AddressType = "billing"
	AddressShipping AddressType = "shipping"
	AddressHome     AddressType = "home"
	AddressWork     AddressType = "work"
	AddressOther    AddressType = "other"
)

// CustomerContact is one way of reaching a customer. At most one contact per
// customer is primary.
type CustomerContact struct {
	ID         string      `json:"id"`
	Type       ContactType `json:"type"`
	Value      string      `json:"value"`
	Label      string      `json:"label,omitempty"`
	IsPrimary  bool        `json:"isPrimary"`
	IsVerified bool        `json:"isVerified"`
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CustomerAddress is a postal address. At most one address per customer is
// the default.
type CustomerAddress struct {
	ID          string      `json:"id"`
	Type        AddressType `json:"type"`
	Street      string      `json:"street,omitempty"`
	City        string      `json:"city,omitempty"`
	State       string      `json:"state,omitempty"`
	PostalCode  string      `json:"postalCode,omitempty"`
	Country     string      `json:"country,omitempty"`
	Coordinates *GeoPoint   `json:"coordinates,omitempty"`
	IsDefault   bool        `json:"isDefault"`
}

// CustomerPreferences holds communication preferences.
type CustomerPreferences struct {
	PreferredContactMethod ContactType `json:"preferredContactMethod,omitempty"`
	Language               string      `json:"language,omitempty"`
	Timezone               string      `json:"timezone,omitempty"`
	MarketingOptIn         bool        `json:"marketingOptIn"`
	DoNotContact           bool        `json:"doNotContact"`
}

// CustomerMetrics are computed rollups kept on the customer record.
type CustomerMetrics struct {
	TotalOrders           int             `json:"totalOrders"`
	LifetimeValue         decimal.Decimal `json:"lifetimeValue"`
	AverageOrderValue     decimal.Decimal `json:"averageOrderValue"`
	LastOrderDate         *time.Time      `json:"lastOrderDate,omitempty"`
	TotalInteractions     int             `json:"totalInteractions"`
	TotalAppointments     int             `json:"totalAppointments"`
	CompletedAppointments int             `json:"completedAppointments"`
	CancelledAppointments int             `json:"cancelledAppointments"`
	LastAppointmentDate   *time.Time      `json:"lastAppointmentDate,omitempty"`
}

// Customer is the primary CRM entity.
type Customer struct {
	ID             string              `json:"id"`
	OrganizationID string              `json:"organizationId"`
	Type           CustomerType        `json:"type"`
	Status         CustomerStatus      `json:"status"`
	Source         CustomerSource      `json:"source,omitempty"`
	Industry       string              `json:"industry,omitempty"`
	FirstName      string              `json:"firstName,omitempty"`
	LastName       string              `json:"lastName,omitempty"`
	BusinessName   string              `json:"businessName,omitempty"`
	DisplayName    string              `json:"displayName"`
	AssignedTo     string              `json:"assignedTo,omitempty"`
	Tags           []string            `json:"tags,omitempty"`
	Notes          string              `json:"notes,omitempty"`
	Contacts       []CustomerContact   `json:"contacts"`
	Addresses      []CustomerAddress   `json:"addresses"`
	Preferences    CustomerPreferences `json:"preferences"`
	Metrics        CustomerMetrics     `json:"metrics"`

	// Version counts mutations of the customer's own fields: updates,
	// contact and address edits, and conflict resolutions. Interactions,
	// the derived LastContactDate and Metrics, and sync stamps leave it
	// unchanged.
	Version         int        `json:"version"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastContactDate *time.Time `json:"lastContactDate,omitempty"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`

	// Conflicts holds unresolved conflicts keyed by field name.
	Conflicts map[string]*ConflictResolution `json:"conflicts,omitempty"`
	// ResolvedConflicts is the settled conflict history, oldest first.
	ResolvedConflicts []ConflictResolution `json:"resolvedConflicts,omitempty"`
}

// HasPendingConflict reports whether any conflict awaits resolution.
func (c *Customer) HasPendingConflict() bool {
	return len(c.Conflicts) > 0
}

// ConflictResolution returns the oldest pending conflict, or nil.
func (c *Customer) ConflictResolution() *ConflictResolution {
	var oldest *ConflictResolution
	for _, cr := range c.Conflicts {
		if oldest == nil || cr.DetectedAt.Before(oldest.DetectedAt) ||
			(cr.DetectedAt.Equal(oldest.DetectedAt) && cr.Field < oldest.Field) {
			oldest = cr
		}
	}
	return oldest
}

// PrimaryContact returns the primary contact, or nil.
func (c *Customer) PrimaryContact() *CustomerContact {
	for i := range c.Contacts {
		if c.Contacts[i].IsPrimary {
			return &c.Contacts[i]
		}
	}
	return nil
}

// DefaultAddress returns the default address, or nil.
func (c *Customer) DefaultAddress() *CustomerAddress {
	for i := range c.Addresses {
		if c.Addresses[i].IsDefault {
			return &c.Addresses[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers never alias store-owned data.
func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Tags != nil {
		cp.Tags = make([]string, len(c.Tags))
		copy(cp.Tags, c.Tags)
	}
	if c.Contacts != nil {
		cp.Contacts = make([]CustomerContact, len(c.Contacts))
		copy(cp.Contacts, c.Contacts)
	}
	if c.Addresses != nil {
		cp.Addresses = make([]CustomerAddress, len(c.Addresses))
		for i, a := range c.Addresses {
			if a.Coordinates != nil {
				pt := *a.Coordinates
				a.Coordinates = &pt
			}
			cp.Addresses[i] = a
		}
	}
	cp.Metrics.LastOrderDate = cloneTime(c.Metrics.LastOrderDate)
	cp.Metrics.LastAppointmentDate = cloneTime(c.Metrics.LastAppointmentDate)
	cp.LastContactDate = cloneTime(c.LastContactDate)
	cp.LastSyncedAt = cloneTime(c.LastSyncedAt)
	if c.Conflicts != nil {
		cp.Conflicts = make(map[string]*ConflictResolution, len(c.Conflicts))
		for k, v := range c.Conflicts {
			cr := v.clone()
			cp.Conflicts[k] = &cr
		}
	}
	if c.ResolvedConflicts != nil {
		cp.ResolvedConflicts = make([]ConflictResolution, len(c.ResolvedConflicts))
		for i := range c.ResolvedConflicts {
			cp.ResolvedConflicts[i] = c.ResolvedConflicts[i].clone()
		}
	}
	return &cp
}

// NewCustomer is the input to CreateCustomer.
type NewCustomer struct {
	ID             string // optional; generated when empty
	OrganizationID string
	Type           CustomerType
	Status         CustomerStatus
	Source         CustomerSource
	Industry       string
	FirstName      string
	LastName       string
	BusinessName   string
	DisplayName    string
	AssignedTo     string
	Tags           []string
	Notes          string
	Contacts       []CustomerContact
	Addresses      []CustomerAddress
	Preferences    CustomerPreferences
}

// CustomerUpdate is a partial update; nil fields are left unchanged.
type CustomerUpdate struct {
	FirstName       *string
	LastName        *string
	BusinessName    *string
	DisplayName     *string
	Type            *CustomerType
	Status          *CustomerStatus
	Source          *CustomerSource
	Industry        *string
	AssignedTo      *string
	Tags            *[]string
	Notes           *string
	Contacts        *[]CustomerContact
	Addresses       *[]CustomerAddress
	Preferences     *CustomerPreferences
	Metrics         *CustomerMetrics
	LastContactDate *time.Time
}

// InteractionType is the kind of engagement.
type InteractionType string

const (
	InteractionCall    InteractionType = "call"
	InteractionEmail   InteractionType = "email"
	InteractionMeeting InteractionType = "meeting"
	InteractionNote    InteractionType = "note"
	InteractionTask    InteractionType = "task"
	InteractionSMS     InteractionType = "sms"
	InteractionVisit   InteractionType = "visit"
	InteractionSupport InteractionType = "support"
	InteractionSale    InteractionType = "sale"
)

// InteractionOutcome is the result of an engagement.
type InteractionOutcome string

const (
	OutcomeSuccessful       InteractionOutcome = "successful"
	OutcomeUnsuccessful     InteractionOutcome = "unsuccessful"
	OutcomeNoAnswer         InteractionOutcome = "no_answer"
	OutcomeFollowUpRequired InteractionOutcome = "follow_up_required"
	OutcomeRescheduled      InteractionOutcome = "rescheduled"
)

// Priority ranks an interaction.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Interaction is an append-only record of an engagement with a customer.
// Only IsSynced, SyncedAt and UpdatedAt change after creation.
type Interaction struct {
	ID               string             `json:"id"`
	CustomerID       string             `json:"customerId"`
	OrganizationID   string             `json:"organizationId"`
	Type             InteractionType    `json:"type"`
	Subject          string             `json:"subject,omitempty"`
	Description      string             `json:"description,omitempty"`
	Outcome          InteractionOutcome `json:"outcome,omitempty"`
	Priority         Priority           `json:"priority"`
	PerformedBy      string             `json:"performedBy,omitempty"`
	Date             time.Time          `json:"date"`
	DurationMinutes  int                `json:"durationMinutes,omitempty"`
	FollowUpRequired bool               `json:"followUpRequired"`
	FollowUpDate     *time.Time         `json:"followUpDate,omitempty"`
	IsSynced         bool               `json:"isSynced"`
	SyncedAt         *time.Time         `json:"syncedAt,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

func (i *Interaction) clone() *Interaction {
	cp := *i
	cp.FollowUpDate = cloneTime(i.FollowUpDate)
	cp.SyncedAt = cloneTime(i.SyncedAt)
	return &cp
}

// NewInteraction is the input to AddInteraction.
type NewInteraction struct {
	CustomerID       string
	Type             InteractionType
	Subject          string
	Description      string
	Outcome          InteractionOutcome
	Priority         Priority
	PerformedBy      string
	Date             time.Time // defaults to now
	DurationMinutes  int
	FollowUpRequired bool
	FollowUpDate     *time.Time
}

// ChangeType is the kind of mutation a Change describes.
type ChangeType string

const (
	ChangeCreate      ChangeType = "create"
	ChangeUpdate      ChangeType = "update"
	ChangeDelete      ChangeType = "delete"
	ChangeInteraction ChangeType = "interaction"
	ChangeAddress     ChangeType = "address"
	ChangeContact     ChangeType = "contact"
)

// Entity kinds referenced by Change.EntityType.
const (
	EntityCustomer    = "customer"
	EntityInteraction = "interaction"
)

// Change is an immutable delta record. Only the sync bookkeeping fields
// (IsSynced, SyncAttempts, LastSyncAttempt, SyncError) change after creation.
type Change struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	CustomerID string          `json:"customerId"`
	Type       ChangeType      `json:"changeType"`
	Field      string          `json:"fieldChanged,omitempty"`
	OldValue   json.RawMessage `json:"oldValue,omitempty"`
	NewValue   json.RawMessage `json:"newValue,omitempty"`
	Version    int             `json:"version"`
	Timestamp  time.Time       `json:"timestamp"`
	IsOffline  bool            `json:"isOffline"`

	IsSynced        bool       `json:"isSynced"`
	SyncAttempts    int        `json:"syncAttempts"`
	LastSyncAttempt *time.Time `json:"lastSyncAttempt,omitempty"`
	SyncError       string     `json:"syncError,omitempty"`
	// SupersededBy is the id of the resolved conflict that retired this
	// change. Superseded changes are never replayed.
	SupersededBy string `json:"supersededBy,omitempty"`
}

// open reports whether the change still waits to be replayed.
func (c *Change) open() bool { return !c.IsSynced && c.SupersededBy == "" }

func (c *Change) clone() *Change {
	cp := *c
	cp.OldValue = append(json.RawMessage(nil), c.OldValue...)
	cp.NewValue = append(json.RawMessage(nil), c.NewValue...)
	cp.LastSyncAttempt = cloneTime(c.LastSyncAttempt)
	return &cp
}

// ResolutionStrategy selects how a conflict is settled.
type ResolutionStrategy string

const (
	UseLocal     ResolutionStrategy = "use_local"
	UseServer    ResolutionStrategy = "use_server"
	Merge        ResolutionStrategy = "merge"
	ManualReview ResolutionStrategy = "manual_review"
)

// ConflictResolution describes a divergence between the local and remote
// value of one tracked field. It is terminal once ResolvedAt is set.
type ConflictResolution struct {
	ID            string             `json:"id"`
	CustomerID    string             `json:"customerId"`
	Field         string             `json:"conflictField"`
	LocalValue    json.RawMessage    `json:"localValue"`
	ServerValue   json.RawMessage    `json:"serverValue"`
	LocalVersion  int                `json:"localVersion"`
	ServerVersion int                `json:"serverVersion"`
	Resolution    ResolutionStrategy `json:"resolution"`
	DetectedAt    time.Time          `json:"detectedAt"`
	ResolvedAt    *time.Time         `json:"resolvedAt,omitempty"`
	ResolvedBy    string             `json:"resolvedBy,omitempty"`
	Notes         string             `json:"notes,omitempty"`
}

// IsResolved reports whether the conflict has been settled.
func (cr *ConflictResolution) IsResolved() bool { return cr.ResolvedAt != nil }

func (cr *ConflictResolution) clone() ConflictResolution {
	cp := *cr
	cp.LocalValue = append(json.RawMessage(nil), cr.LocalValue...)
	cp.ServerValue = append(json.RawMessage(nil), cr.ServerValue...)
	cp.ResolvedAt = cloneTime(cr.ResolvedAt)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func displayNameFor(c *Customer) string {
	if c.BusinessName != "" {
		return c.BusinessName
	}
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	case c.FirstName != "":
		return c.FirstName
	default:
		return c.LastName
	}
}
