// Package store provides the memory repository interface and SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/vector"
)

// UpdateParams holds a partial update of a memory. Nil fields are unchanged.
type UpdateParams struct {
	Content  *string
	Tags     *[]string
	Metadata model.Metadata // replaces the whole map when non-nil
	// Vectors replaces the sector vector set when non-nil. The first vector's
	// sector becomes the primary sector.
	Vectors     []model.SectorVector
	Mean        vector.Vector
	DecayLambda *float64
	Now         time.Time
}

// ScanParams holds parameters for paginated scans.
type ScanParams struct {
	Owner  string       // empty means every owner
	Sector model.Sector // empty means every sector; matches primary or additional
	Since  time.Time
	Limit  int
	Offset int
	// Newest orders by created_at descending instead of by id.
	Newest bool
}

// SalienceParams updates salience plus optional timestamps.
type SalienceParams struct {
	ID         string
	Salience   float64
	LastSeenAt time.Time // zero leaves unchanged
	DecayedAt  time.Time // zero leaves unchanged
}

// MeanQuery selects mean vectors for linking and reflection.
type MeanQuery struct {
	Owner    string
	AnyOwner bool           // ignore Owner
	Sectors  []model.Sector // memories holding a vector in any of these; empty means all
	Since    time.Time
	Limit    int
	// Unconsolidated skips memories already folded into a reflection.
	Unconsolidated bool
}

// MeanRef is a memory's mean vector, used for linking and clustering.
type MeanRef struct {
	ID        string
	Owner     string
	Primary   model.Sector
	Content   string
	CreatedAt time.Time
	Mean      vector.Vector
}

// Store defines the memory repository.
type Store interface {
	// Add writes the memory and all of its sector vectors atomically and
	// returns the stored memory with its assigned id.
	Add(ctx context.Context, mem *model.Memory, vecs []model.SectorVector) (*model.Memory, error)
	Get(ctx context.Context, id string) (*model.Memory, error)
	GetMany(ctx context.Context, ids []string) (map[string]*model.Memory, error)
	Update(ctx context.Context, id string, p UpdateParams) (*model.Memory, error)
	Delete(ctx context.Context, id string) error

	Scan(ctx context.Context, p ScanParams) ([]model.Memory, error)
	ScanBySector(ctx context.Context, sector model.Sector, limit, offset int) ([]model.Memory, error)
	Vectors(ctx context.Context, id string) ([]model.SectorVector, error)
	Nearest(ctx context.Context, sector model.Sector, q vector.Vector, topK int) ([]vector.Hit, error)
	RecentMeans(ctx context.Context, q MeanQuery) ([]MeanRef, error)

	SetSalience(ctx context.Context, p SalienceParams) error
	// SetCold flags a memory cold and stores compressed vectors, or clears
	// the flag and the compressed vectors when cold is false.
	SetCold(ctx context.Context, id string, cold bool, compressed []model.SectorVector) error
	MarkConsolidated(ctx context.Context, ids []string, into string) error

	GetSummary(ctx context.Context, owner string) (*model.UserSummary, error)
	UpsertSummary(ctx context.Context, s model.UserSummary) error
	AddReflections(ctx context.Context, owner string, n int, now time.Time) error
	ListOwners(ctx context.Context, since time.Time) ([]string, error)

	Stats(ctx context.Context) (*Stats, error)
	ExportAll(ctx context.Context, owner string) (*Export, error)
	Import(ctx context.Context, exp *Export) (int, error)

	Close() error
}
