// Package model defines entity types (Descriptor) and entity instances
// (Model).
//
// A Model keeps two slot arrays indexed by column position: the baseline, as
// constructed or loaded, and the dirty overlay of changed-but-unflushed
// values. Reads resolve overlay first. Protected columns (the reserved
// created_on/updated_on/deleted_on timestamps and any others the type
// declares) are only written by Hydrate, never by Set.
package model
