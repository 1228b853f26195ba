// Package types defines entity type descriptors, property types, the
// ambient caller scope, persisted row shapes, and the standard errors
// shared by the record engine, its storage backends, and its callers.
//
// A descriptor is built once (usually by the registry from a schema file)
// and is then treated as an immutable value shared by every record of
// that type.
package types
