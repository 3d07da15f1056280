package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldCycleID     = "cycle_id"
	FieldRecurringID = "recurring_id"
	FieldRecordID    = "record_id"
	FieldDescription = "description"
	FieldAmountCents = "amount_cents"
	FieldDueDate     = "due_date"
	FieldNextDueDate = "next_due_date"
	FieldSide        = "side"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentProcessor = "processor"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithRecurring adds the recurring definition id and description
func (f LogFields) WithRecurring(id, description string) LogFields {
	f[FieldRecurringID] = id
	f[FieldDescription] = description
	return f
}

// WithCycle adds the scheduler cycle id
func (f LogFields) WithCycle(cycleID string) LogFields {
	f[FieldCycleID] = cycleID
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
