package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldTable      = "table"
	FieldEventKind  = "event_kind"
	FieldKey        = "key"
	FieldToken      = "token"
	FieldUserID     = "user_id"
	FieldCategoryID = "category_id"
	FieldEntryID    = "entry_id"
	FieldAmount     = "amount"
	FieldBalance    = "balance"
	FieldStep       = "step"
	FieldCount      = "count"
	FieldDuration   = "duration_ms"
	FieldOrigin     = "origin"
	FieldExchange   = "exchange"
	FieldObjectKey  = "object_key"
	FieldSheetsRef  = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentCollection = "collection"
	ComponentLedger     = "ledger"
	ComponentChat       = "chat"
	ComponentDirectory  = "directory"
	ComponentVocab      = "vocab"
	ComponentSession    = "session"
	ComponentGateway    = "gateway"
	ComponentRealtime   = "realtime"
	ComponentAMQP       = "amqp"
	ComponentObjects    = "objects"
	ComponentExporter   = "exporter"
	ComponentSheets     = "sheets"
	ComponentCache      = "cache"
	ComponentBackend    = "backend"
	ComponentMetrics    = "metrics"
)

// Operations defines standard operation names
const (
	OpLoad     = "load"
	OpCreate   = "create"
	OpRecord   = "record"
	OpDelete   = "delete"
	OpAttach   = "attach"
	OpSend     = "send"
	OpAppend   = "append"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithEntry adds ledger entry fields
func (f LogFields) WithEntry(categoryID int64, amount int64, token string) LogFields {
	f[FieldCategoryID] = categoryID
	f[FieldAmount] = amount
	if token != "" {
		f[FieldToken] = token
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
