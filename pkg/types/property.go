package types

import "context"

// PropertyType determines which values a property accepts and how they
// are stored.
type PropertyType string

// Property types. The set is closed; descriptors naming any other type
// fail validation.
const (
	PropertyText            PropertyType = "text"
	PropertyLongText        PropertyType = "long_text"
	PropertyEmail           PropertyType = "email"
	PropertyInteger         PropertyType = "integer"
	PropertyBoolean         PropertyType = "boolean"
	PropertyDate            PropertyType = "date"
	PropertyJSON            PropertyType = "json"
	PropertyData            PropertyType = "data"
	PropertyRecord          PropertyType = "record"
	PropertyUser            PropertyType = "user"
	PropertyProject         PropertyType = "project"
	PropertyEntityReference PropertyType = "entity_reference"
)

// validPropertyTypes is the set of recognized property types.
var validPropertyTypes = map[PropertyType]bool{
	PropertyText:            true,
	PropertyLongText:        true,
	PropertyEmail:           true,
	PropertyInteger:         true,
	PropertyBoolean:         true,
	PropertyDate:            true,
	PropertyJSON:            true,
	PropertyData:            true,
	PropertyRecord:          true,
	PropertyUser:            true,
	PropertyProject:         true,
	PropertyEntityReference: true,
}

// IsValidPropertyType reports whether the given type is recognized.
func IsValidPropertyType(pt PropertyType) bool {
	return validPropertyTypes[pt]
}

// Structured reports whether values of this type are stored as encoded
// text and decoded back to structured form on read.
func (pt PropertyType) Structured() bool {
	return pt == PropertyJSON || pt == PropertyData
}

// ColumnType returns the SQL column type used to store values of pt.
func (pt PropertyType) ColumnType() string {
	switch pt {
	case PropertyInteger, PropertyBoolean, PropertyEntityReference:
		return "INTEGER"
	case PropertyDate:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

// ChoicesFunc computes the allowed value mapping (value -> label) for a
// property at validation time.
type ChoicesFunc func(ctx context.Context) (map[string]string, error)

// PropertyInfo describes a single typed property of an entity type.
type PropertyInfo struct {
	Name     string       `json:"name" yaml:"name"`
	Label    string       `json:"label,omitempty" yaml:"label,omitempty"`
	Type     PropertyType `json:"type" yaml:"type"`
	Required bool         `json:"required,omitempty" yaml:"required,omitempty"`

	// Choices is a static value -> label mapping.
	Choices map[string]string `json:"choices,omitempty" yaml:"choices,omitempty"`

	// ChoicesProvider names a provider registered with the registry. The
	// registry resolves it into ChoicesFunc when the type is registered.
	ChoicesProvider string      `json:"choices_provider,omitempty" yaml:"choices_provider,omitempty"`
	ChoicesFunc     ChoicesFunc `json:"-" yaml:"-"`

	// EntityType is the target type of an entity_reference property.
	EntityType string `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
}

// HasChoices reports whether the property restricts values to a choice set.
func (p PropertyInfo) HasChoices() bool {
	return p.Choices != nil || p.ChoicesFunc != nil || p.ChoicesProvider != ""
}
