package gateway

import "fmt"

// Table names of the remote schema.
const (
	TableUsers      = "users"
	TableCategories = "categories"
	TableBalances   = "warehouse"
	TableExpenses   = "expenses"
	TableMessages   = "messages"
	// TableCredentials holds password hashes apart from the public users rows.
	TableCredentials  = "credentials"
	TableVocabularies = "vocabularies"
)

type KeyKind int

const (
	// KeyNatural keys are supplied by the caller.
	KeyNatural KeyKind = iota
	// KeySerial keys are increasing integers assigned by the service.
	KeySerial
	// KeyUUID keys are random UUID strings assigned by the service.
	KeyUUID
)

// Reference is a foreign key: Column must match an existing Table.Target.
type Reference struct {
	Column string
	Table  string
	Target string
}

// TableSpec describes what the service enforces for one table.
type TableSpec struct {
	Name       string
	Key        string
	KeyKind    KeyKind
	Timestamp  string // filled on insert when set
	Unique     [][]string
	References []Reference
}

// Tables is the schema both gateway implementations serve.
var Tables = map[string]TableSpec{
	TableUsers: {
		Name:      TableUsers,
		Key:       "id",
		KeyKind:   KeyUUID,
		Timestamp: "created_at",
		Unique:    [][]string{{"email"}},
	},
	TableCategories: {
		Name:    TableCategories,
		Key:     "id",
		KeyKind: KeySerial,
		Unique:  [][]string{{"user_id", "name"}},
	},
	TableBalances: {
		Name:       TableBalances,
		Key:        "category_id",
		KeyKind:    KeyNatural,
		References: []Reference{{Column: "category_id", Table: TableCategories, Target: "id"}},
	},
	TableExpenses: {
		Name:       TableExpenses,
		Key:        "id",
		KeyKind:    KeySerial,
		Timestamp:  "created_at",
		References: []Reference{{Column: "category_id", Table: TableCategories, Target: "id"}},
	},
	TableMessages: {
		Name:      TableMessages,
		Key:       "id",
		KeyKind:   KeyUUID,
		Timestamp: "created_at",
	},
	TableCredentials: {
		Name:       TableCredentials,
		Key:        "user_id",
		KeyKind:    KeyNatural,
		References: []Reference{{Column: "user_id", Table: TableUsers, Target: "id"}},
	},
	TableVocabularies: {
		Name:      TableVocabularies,
		Key:       "id",
		KeyKind:   KeyUUID,
		Timestamp: "created_at",
	},
}

// Lookup returns the spec of a registered table.
func Lookup(table string) (TableSpec, error) {
	spec, ok := Tables[table]
	if !ok {
		return TableSpec{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return spec, nil
}
