package core

import "fmt"

// TableMetadata describes a table as seen by the merge engine: its key
// fields and its remaining (normal) fields, both in declaration order.
type TableMetadata struct {
	Name         string   `json:"name"`
	KeyFields    []string `json:"keyFields"`
	NormalFields []string `json:"normalFields"`
}

// Fields returns the key fields followed by the normal fields.
func (table TableMetadata) Fields() []string {
	fields := make([]string, 0, len(table.KeyFields)+len(table.NormalFields))
	fields = append(fields, table.KeyFields...)
	return append(fields, table.NormalFields...)
}

// Validate rejects tables the merge engine cannot diff.
func (table TableMetadata) Validate() error {
	if len(table.KeyFields) == 0 {
		return fmt.Errorf("table %s: %w", table.Name, ErrUnsupportedTable)
	}
	return nil
}

// DiffResult classifies a row on one diff axis.
type DiffResult int

const (
	Same DiffResult = iota
	Inserted
	Deleted
	Modified
)

func (result DiffResult) String() string {
	switch result {
	case Same:
		return "same"
	case Inserted:
		return "inserted"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	default:
		return fmt.Sprintf("DiffResult(%d)", int(result))
	}
}
