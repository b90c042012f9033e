package event

import (
	"fmt"
	"os"
	"sort"

	"github.com/clinicore/webhook-dispatch/validate"
	"gopkg.in/yaml.v3"
)

/* Catalog is the static list of event types the platform emits, loaded from
 * events.yaml. It backs the GET /events listing and lets the trigger path
 * reject event types no domain module produces.
 */

// CatalogEntry describes one event type in events.yaml.
type CatalogEntry struct {
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description" json:"description,omitempty"`
}

type catalogFile struct {
	Events []CatalogEntry `yaml:"events"`
}

// Catalog holds the loaded event types with in-memory lookup.
type Catalog struct {
	entries map[string]CatalogEntry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]CatalogEntry)}
}

// DefaultCatalog returns the built-in catalog used when no events.yaml is
// configured: the event types the healthcare domain modules emit today.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, entry := range []CatalogEntry{
		{Type: "patient.created", Description: "A patient record was created"},
		{Type: "patient.updated", Description: "A patient record was updated"},
		{Type: "patient.deleted", Description: "A patient record was deleted"},
		{Type: "appointment.scheduled", Description: "An appointment was scheduled"},
		{Type: "appointment.cancelled", Description: "An appointment was cancelled"},
		{Type: "appointment.completed", Description: "An appointment was completed"},
		{Type: "order.created", Description: "A lab or pharmacy order was created"},
		{Type: "order.completed", Description: "A lab or pharmacy order was completed"},
		{Type: TestType, Description: "Synthetic event for endpoint verification"},
	} {
		c.entries[entry.Type] = entry
	}
	return c
}

// Load reads and validates an events.yaml catalog file.
func (c *Catalog) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading events file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing events YAML: %w", err)
	}

	for _, entry := range file.Events {
		if err := validate.EventType(entry.Type); err != nil {
			return fmt.Errorf("validating catalog entry: %w", err)
		}
		if entry.Type == Wildcard {
			return fmt.Errorf("validating catalog entry: wildcard is not a concrete event type")
		}
		c.entries[entry.Type] = entry
	}

	return nil
}

// Known reports whether the catalog lists the event type.
func (c *Catalog) Known(eventType string) bool {
	_, ok := c.entries[eventType]
	return ok
}

// List returns all catalog entries sorted by type.
func (c *Catalog) List() []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Type < entries[j].Type })
	return entries
}
