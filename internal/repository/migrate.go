package repository

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/dialect/sql/schema"

	entschema "github.com/abzdel/handwritten-text-extraction-ocr-llm/db/ent/schema"
)

// Tables holds every table the ledger owns, derived from the ent schemas in db/ent/schema.
var Tables = []*schema.Table{
	ExtractJobsTable,
}

// ExtractJobsTable is the extract_jobs table.
var ExtractJobsTable = tableOf("ExtractJob", entschema.ExtractJob{})

// tableOf converts an ent schema into the table description the Atlas migrator consumes.
func tableOf(typeName string, s ent.Interface) *schema.Table {
	name := strings.ToLower(typeName) + "s"
	for _, a := range s.Annotations() {
		if ant, ok := a.(entsql.Annotation); ok && ant.Table != "" {
			name = ant.Table
		}
	}

	t := schema.NewTable(name)
	for _, f := range s.Fields() {
		d := f.Descriptor()
		col := &schema.Column{
			Name:       columnName(d.Name, d.StorageKey),
			Type:       d.Info.Type,
			SchemaType: d.SchemaType,
			Size:       int64(d.Size),
			Unique:     d.Unique,
			Nullable:   d.Optional,
		}
		if d.Name == "id" {
			t.AddPrimary(col)
			continue
		}
		t.AddColumn(col)
	}
	for _, i := range s.Indexes() {
		d := i.Descriptor()
		idx := d.StorageKey
		if idx == "" {
			idx = strings.ToLower(typeName) + "_" + strings.Join(d.Fields, "_")
		}
		t.AddIndex(idx, d.Unique, d.Fields)
	}
	return t
}

func columnName(name, storageKey string) string {
	if storageKey != "" {
		return storageKey
	}
	return name
}

// Migrate brings the ledger tables up to date. Columns and indexes are added, never dropped.
func (d *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(d.drv)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
