package model

// LogicalType is a store-agnostic column type; store adapters translate it
// to their own dialect.
type LogicalType string

const (
	TypeString    LogicalType = "string"
	TypeText      LogicalType = "text"
	TypeInteger   LogicalType = "integer"
	TypeReal      LogicalType = "real"
	TypeBoolean   LogicalType = "boolean"
	TypeTimestamp LogicalType = "timestamp"
	TypeJSON      LogicalType = "json"
)

func (t LogicalType) String() string { return string(t) }

func (t LogicalType) Valid() bool {
	switch t {
	case TypeString, TypeText, TypeInteger, TypeReal, TypeBoolean, TypeTimestamp, TypeJSON:
		return true
	default:
		return false
	}
}

type Constraint string

const (
	ConstraintNotNull Constraint = "not_null"
	ConstraintUnique  Constraint = "unique"
)

func (c Constraint) Valid() bool {
	return c == ConstraintNotNull || c == ConstraintUnique
}

type Column struct {
	Name        string       `yaml:"name"        json:"name"`
	Type        LogicalType  `yaml:"type"        json:"type"`
	Constraints []Constraint `yaml:"constraints" json:"constraints,omitempty"`
	Default     any          `yaml:"default"     json:"default,omitempty"`
}

// Has reports whether the column carries constraint c.
func (c Column) Has(con Constraint) bool {
	for _, x := range c.Constraints {
		if x == con {
			return true
		}
	}
	return false
}

type Index struct {
	Name    string   `yaml:"name"    json:"name"`
	Columns []string `yaml:"columns" json:"columns"`
	Unique  bool     `yaml:"unique"  json:"unique,omitempty"`
}

// SchemaDefinition is the canonical definition of one table.
type SchemaDefinition struct {
	TableName  string   `yaml:"table"       json:"table"`
	Columns    []Column `yaml:"columns"     json:"columns"`
	Indexes    []Index  `yaml:"indexes"     json:"indexes,omitempty"`
	PrimaryKey string   `yaml:"primary_key" json:"primary_key,omitempty"`
}

// PK returns the primary key column name, "id" when unset.
func (s SchemaDefinition) PK() string {
	if s.PrimaryKey == "" {
		return FieldID
	}
	return s.PrimaryKey
}

// Column looks up a column by name.
func (s SchemaDefinition) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
