package types

import (
	"fmt"
	"regexp"
)

// Role is a schema-declared part a property plays for the engine.
type Role string

// Special key roles.
const (
	RoleLabel   Role = "label"
	RoleName    Role = "name"
	RoleAuthor  Role = "author"
	RoleProject Role = "project"
)

var validRoles = map[Role]bool{
	RoleLabel:   true,
	RoleName:    true,
	RoleAuthor:  true,
	RoleProject: true,
}

// Meta column names present in every entity table.
const (
	ColumnID      = "id"
	ColumnCreated = "created"
	ColumnUpdated = "updated"
	ColumnVersion = "version"
)

// reservedColumns cannot be used as property names.
var reservedColumns = map[string]bool{
	ColumnID:      true,
	ColumnCreated: true,
	ColumnUpdated: true,
	ColumnVersion: true,
}

// identifierPattern is the allow-list for type and property names. Both
// end up as SQL identifiers, so nothing outside it is ever accepted.
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// DefaultTablePrefix is prepended to type names to form table names.
const DefaultTablePrefix = "entity_"

// IsIdentifier reports whether s is usable as a type or column name.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// EntityType is the descriptor of one kind of stored record.
type EntityType struct {
	Name        string          `json:"name" yaml:"name"`
	Label       string          `json:"label,omitempty" yaml:"label,omitempty"`
	Properties  []PropertyInfo  `json:"properties" yaml:"properties"`
	SpecialKeys map[Role]string `json:"special_keys,omitempty" yaml:"special_keys,omitempty"`

	// Versioned types carry a version column compared on update.
	Versioned bool `json:"versioned,omitempty" yaml:"versioned,omitempty"`
}

// Validate checks the descriptor for internal consistency. It returns an
// error wrapping ErrInvalidType or ErrInvalidIdentifier.
func (t *EntityType) Validate() error {
	if !IsIdentifier(t.Name) {
		return fmt.Errorf("%w: type name %q", ErrInvalidIdentifier, t.Name)
	}
	seen := make(map[string]bool, len(t.Properties))
	for _, p := range t.Properties {
		if !IsIdentifier(p.Name) {
			return fmt.Errorf("%w: property %q of %s", ErrInvalidIdentifier, p.Name, t.Name)
		}
		if reservedColumns[p.Name] {
			return fmt.Errorf("%w: property %q of %s is reserved", ErrInvalidType, p.Name, t.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate property %q in %s", ErrInvalidType, p.Name, t.Name)
		}
		seen[p.Name] = true
		if !IsValidPropertyType(p.Type) {
			return fmt.Errorf("%w: property %s.%s has unknown type %q", ErrInvalidType, t.Name, p.Name, p.Type)
		}
		if p.Type == PropertyEntityReference && p.EntityType == "" {
			return fmt.Errorf("%w: property %s.%s references no entity type", ErrInvalidType, t.Name, p.Name)
		}
		if p.Choices != nil && p.ChoicesProvider != "" {
			return fmt.Errorf("%w: property %s.%s declares both choices and a choices provider", ErrInvalidType, t.Name, p.Name)
		}
	}
	for role, prop := range t.SpecialKeys {
		if !validRoles[role] {
			return fmt.Errorf("%w: unknown special key %q in %s", ErrInvalidType, role, t.Name)
		}
		if !seen[prop] {
			return fmt.Errorf("%w: special key %s of %s names missing property %q", ErrInvalidType, role, t.Name, prop)
		}
	}
	return nil
}

// Property returns the named property.
func (t *EntityType) Property(name string) (PropertyInfo, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyInfo{}, false
}

// PropertyNames returns property names in declaration order.
func (t *EntityType) PropertyNames() []string {
	names := make([]string, len(t.Properties))
	for i, p := range t.Properties {
		names[i] = p.Name
	}
	return names
}

// SpecialKey returns the property playing role, if declared.
func (t *EntityType) SpecialKey(role Role) (string, bool) {
	name, ok := t.SpecialKeys[role]
	return name, ok && name != ""
}

// TableName returns the storage table for this type.
func (t *EntityType) TableName(prefix string) string {
	return prefix + t.Name
}

// IsColumn reports whether name is a meta column or a declared property.
func (t *EntityType) IsColumn(name string) bool {
	if name == ColumnVersion {
		return t.Versioned
	}
	if reservedColumns[name] {
		return true
	}
	_, ok := t.Property(name)
	return ok
}
