package models

// Meta carries the fields every syncable record has. Embedded in each
// typed record.
type Meta struct {
	ID         int64      `json:"id,omitempty"`
	OwnerID    string     `json:"ownerId,omitempty"`
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`
	CreatedAt  string     `json:"createdAt,omitempty"`
	UpdatedAt  string     `json:"updatedAt,omitempty"`
}

// Medication is a tracked medicine with stock levels.
type Medication struct {
	Meta
	Name          string `json:"name"`
	Stock         int64  `json:"stock"`
	Threshold     int64  `json:"threshold"`
	StockAlert    bool   `json:"stockAlert"`
	ReminderAlert bool   `json:"reminderAlert"`
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
}

// Frequency is the dosing schedule of exactly one medication.
type Frequency struct {
	Meta
	MedicationID int64    `json:"medicationId"`
	Dosage       float64  `json:"dosage"`
	DosageUnit   string   `json:"dosageUnit"`
	Cycle        string   `json:"cycle"`
	Times        []string `json:"times"`
}

// Appointment is a scheduled visit.
type Appointment struct {
	Meta
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	ScheduledTime string `json:"scheduledTime"`
	Description   string `json:"description,omitempty"`
	Location      string `json:"location,omitempty"`
}

// EmergencyContact is a person to call.
type EmergencyContact struct {
	Meta
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Type  string `json:"type,omitempty"`
}

// Notification types emitted by the evaluator.
const (
	NotificationLowStock            = "LOW_STOCK"
	NotificationAppointmentReminder = "APPOINTMENT_REMINDER"
)

// Notification states.
const (
	NotificationPending   = "PENDING"
	NotificationDelivered = "DELIVERED"
	NotificationDismissed = "DISMISSED"
)

// Notification is a generated alert about a medication or appointment.
type Notification struct {
	Meta
	Type      string            `json:"type"`
	Status    string            `json:"status"`
	TargetID  int64             `json:"targetId"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Setting holds per-user preferences.
type Setting struct {
	Meta
	Language             string `json:"language,omitempty"`
	Timezone             string `json:"timezone,omitempty"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	ReminderLeadMinutes  int64  `json:"reminderLeadMinutes"`
}

// User is the authenticated owner of the local store.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}
