// Package model defines the core memory data types.
package model

import (
	"fmt"
	"time"
)

// Sector is one of the five cognitive categories a memory can belong to.
type Sector string

const (
	Semantic   Sector = "semantic"
	Episodic   Sector = "episodic"
	Procedural Sector = "procedural"
	Emotional  Sector = "emotional"
	Reflective Sector = "reflective"
)

// Sectors lists every sector in canonical order.
var Sectors = []Sector{Semantic, Episodic, Procedural, Emotional, Reflective}

// ValidSectors are the allowed sector names.
var ValidSectors = map[Sector]bool{
	Semantic:   true,
	Episodic:   true,
	Procedural: true,
	Emotional:  true,
	Reflective: true,
}

// ParseSector validates a sector name.
func ParseSector(s string) (Sector, error) {
	sec := Sector(s)
	if !ValidSectors[sec] {
		return "", fmt.Errorf("%w: unknown sector %q", ErrInvalidQuery, s)
	}
	return sec, nil
}

// Memory represents a stored memory entry.
type Memory struct {
	ID                string    `json:"id"`
	Owner             string    `json:"owner,omitempty"`
	Content           string    `json:"content"`
	PrimarySector     Sector    `json:"primary_sector"`
	AdditionalSectors []Sector  `json:"additional_sectors,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	Metadata          Metadata  `json:"metadata,omitempty"`
	Salience          float64   `json:"salience"`
	DecayLambda       float64   `json:"decay_lambda"`
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	DecayedAt         time.Time `json:"decayed_at"`
	Cold              bool      `json:"cold,omitempty"`
	ConsolidatedInto  string    `json:"consolidated_into,omitempty"`
	MeanVector        []float32 `json:"-"`
}

// SectorSet returns the primary sector followed by the additional sectors.
func (m *Memory) SectorSet() []Sector {
	out := make([]Sector, 0, 1+len(m.AdditionalSectors))
	out = append(out, m.PrimarySector)
	for _, s := range m.AdditionalSectors {
		if s != m.PrimarySector {
			out = append(out, s)
		}
	}
	return out
}

// HasSector reports whether s is in the memory's sector set.
func (m *Memory) HasSector(s Sector) bool {
	if m.PrimarySector == s {
		return true
	}
	for _, a := range m.AdditionalSectors {
		if a == s {
			return true
		}
	}
	return false
}

// DecayAnchor is the instant from which pending decay is measured.
func (m *Memory) DecayAnchor() time.Time {
	if m.DecayedAt.After(m.LastSeenAt) {
		return m.DecayedAt
	}
	return m.LastSeenAt
}

// SectorVector is the embedding of one memory in one sector.
type SectorVector struct {
	MemoryID   string    `json:"memory_id"`
	Sector     Sector    `json:"sector"`
	Vector     []float32 `json:"vector"`
	Compressed []float32 `json:"compressed_vector,omitempty"`
}

// Waypoint is the single strongest outgoing association of a memory.
type Waypoint struct {
	SrcID     string    `json:"src_id"`
	DstID     string    `json:"dst_id"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserSummary is the rolling digest kept per owner.
type UserSummary struct {
	Owner           string    `json:"owner"`
	Summary         string    `json:"summary"`
	ReflectionCount int       `json:"reflection_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
