// Package store persists layer records and users.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/joeblew999/plat-webgis/internal/auth"
	"github.com/joeblew999/plat-webgis/internal/layer"
)

// Store is the layer record collection. Implementations must be safe for
// concurrent use; there are no cross-record invariants, so no global locking
// is needed.
type Store interface {
	// Create assigns ID and CreatedAt, marks the layer active, derives its
	// name and persists it.
	Create(ctx context.Context, l *layer.Layer) (string, error)
	// List returns layers newest first.
	List(ctx context.Context, activeOnly bool) ([]layer.Layer, error)
	Get(ctx context.Context, id string) (layer.Layer, error)
	// Update replaces type, tahun and (when set) description, and
	// regenerates the name. The stored file is never touched.
	Update(ctx context.Context, id string, f layer.Fields) (layer.Layer, error)
	// Delete removes the record permanently.
	Delete(ctx context.Context, id string) error
	// Deactivate hides the record from active listings and keeps it.
	Deactivate(ctx context.Context, id string) error

	auth.Repository

	Close() error
}

// Driver names accepted by Open.
const (
	DriverDuckDB = "duckdb"
	DriverMongo  = "mongo"
)

// Config selects and configures a backend.
type Config struct {
	Driver   string
	DataDir  string
	MongoURI string
	MongoDB  string
}

// Open opens the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverDuckDB:
		return OpenDuckDB(ctx, cfg.DataDir)
	case DriverMongo:
		return OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// prepareCreate validates l and fills the server-assigned fields.
func prepareCreate(l *layer.Layer, now time.Time) error {
	f, err := layer.Fields{Type: l.Type, Year: l.Year}.Normalize()
	if err != nil {
		return err
	}
	l.Type = f.Type
	l.Year = f.Year
	l.Name = layer.GenerateName(f.Type, f.Year)
	l.CreatedAt = now
	l.IsActive = true
	return nil
}

func now() time.Time {
	// BSON dates keep milliseconds.
	return time.Now().UTC().Truncate(time.Millisecond)
}

func notFound(id string) error {
	return fmt.Errorf("layer %q: %w", id, layer.ErrNotFound)
}
