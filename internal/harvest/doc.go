// Package harvest defines the core types and collaborator contracts shared
// across the scheduler, ingestion pipeline and store components.
package harvest
