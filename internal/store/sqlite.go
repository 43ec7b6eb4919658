package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/vector"
)

// SQLiteStore implements Store using SQLite. Vectors are persisted as
// little-endian float32 blobs and served from a lazily loaded in-memory
// index per sector.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	index *vector.Set
	log   *slog.Logger

	dimMu sync.RWMutex
	dims  map[model.Sector]int
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithDelegateThreshold sets the sector size above which searches move to
// the chromem-go index. n <= 0 keeps every sector on a linear scan.
func WithDelegateThreshold(n int) Option {
	return func(s *SQLiteStore) { s.index = vector.NewSet(n) }
}

// WithLogger sets the logger for failures that do not fail the call.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One shared connection: SQLite serialises writers anyway, and a single
	// connection keeps every transaction's view consistent.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:    db,
		path:  dbPath,
		index: vector.NewSet(vector.DefaultDelegateThreshold),
		log:   slog.Default(),
		dims:  make(map[model.Sector]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) newID(t time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(t), ulid.DefaultEntropy())
	if err != nil {
		return "", fmt.Errorf("new id: %w", err)
	}
	return id.String(), nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id                TEXT PRIMARY KEY,
		owner             TEXT NOT NULL DEFAULT '',
		content           TEXT NOT NULL,
		primary_sector    TEXT NOT NULL,
		sectors           TEXT,
		tags              TEXT,
		meta              TEXT,
		salience          REAL NOT NULL,
		decay_lambda      REAL NOT NULL,
		version           INTEGER NOT NULL DEFAULT 1,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		last_seen_at      INTEGER NOT NULL,
		decayed_at        INTEGER NOT NULL DEFAULT 0,
		mean_vec          BLOB,
		cold              INTEGER NOT NULL DEFAULT 0,
		consolidated_into TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_primary ON memories(primary_sector);

	CREATE TABLE IF NOT EXISTS vectors (
		memory_id  TEXT NOT NULL REFERENCES memories(id),
		sector     TEXT NOT NULL,
		dim        INTEGER NOT NULL,
		v          BLOB NOT NULL,
		compressed BLOB,
		PRIMARY KEY (memory_id, sector)
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_sector ON vectors(sector);

	CREATE TABLE IF NOT EXISTS sector_dims (
		sector TEXT PRIMARY KEY,
		dim    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS waypoints (
		src_id     TEXT PRIMARY KEY REFERENCES memories(id),
		dst_id     TEXT NOT NULL,
		weight     REAL NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_waypoints_dst ON waypoints(dst_id);

	CREATE TABLE IF NOT EXISTS user_summaries (
		owner            TEXT PRIMARY KEY,
		summary          TEXT NOT NULL DEFAULT '',
		reflection_count INTEGER NOT NULL DEFAULT 0,
		updated_at       INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const memoryColumns = `id, owner, content, primary_sector, sectors, tags, meta, salience, decay_lambda,
	version, created_at, updated_at, last_seen_at, decayed_at, mean_vec, cold, consolidated_into`

func (s *SQLiteStore) Add(ctx context.Context, mem *model.Memory, vecs []model.SectorVector) (*model.Memory, error) {
	if err := validateVectors(mem.PrimarySector, vecs); err != nil {
		return nil, err
	}

	m := *mem
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ID == "" {
		id, err := s.newID(m.CreatedAt)
		if err != nil {
			return nil, err
		}
		m.ID = id
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if m.LastSeenAt.IsZero() {
		m.LastSeenAt = m.CreatedAt
	}
	if m.Version == 0 {
		m.Version = 1
	}
	m.Salience = model.Clamp01(m.Salience)

	sectorsJSON, tagsJSON, metaJSON, err := encodeLists(m.AdditionalSectors, m.Tags, m.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, model.NewStorageError("add", err)
	}
	defer tx.Rollback()

	if err := s.checkDims(ctx, tx, vecs); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Owner, m.Content, string(m.PrimarySector), sectorsJSON, tagsJSON, metaJSON,
		m.Salience, m.DecayLambda, m.Version,
		toMS(m.CreatedAt), toMS(m.UpdatedAt), toMS(m.LastSeenAt), toMS(m.DecayedAt),
		encodeOptional(m.MeanVector), boolInt(m.Cold), m.ConsolidatedInto)
	if err != nil {
		return nil, model.NewStorageError("insert memory", err)
	}

	if err := insertVectors(ctx, tx, m.ID, vecs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, model.NewStorageError("commit add", err)
	}

	s.rememberDims(vecs)
	for _, sv := range vecs {
		if err := s.index.Upsert(ctx, string(sv.Sector), m.ID, sv.Vector); err != nil {
			s.dropIndex("index add", sv.Sector, m.ID, err)
		}
	}
	return &m, nil
}

// dropIndex handles an index write that failed after its transaction
// committed. SQLite already holds the truth, so the partition is dropped and
// reloaded from it on the next search.
func (s *SQLiteStore) dropIndex(op string, sec model.Sector, id string, err error) {
	s.log.Warn(op, "sector", sec, "id", id, "error", err)
	s.index.Drop(string(sec))
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: memory %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, model.NewStorageError("get", err)
	}
	return &m, nil
}

func (s *SQLiteStore) GetMany(ctx context.Context, ids []string) (map[string]*model.Memory, error) {
	out := make(map[string]*model.Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return nil, model.NewStorageError("get many", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, model.NewStorageError("get many", err)
		}
		out[m.ID] = &m
	}
	return out, model.NewStorageError("get many", rows.Err())
}

func (s *SQLiteStore) Update(ctx context.Context, id string, p UpdateParams) (*model.Memory, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, model.NewStorageError("update", err)
	}
	defer tx.Rollback()

	m, err := scanMemory(tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: memory %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, model.NewStorageError("update", err)
	}
	oldSectors := m.SectorSet()

	if p.Content != nil && *p.Content != m.Content {
		m.Content = *p.Content
		m.Version++
	}
	if p.Tags != nil {
		m.Tags = *p.Tags
	}
	if p.Metadata != nil {
		m.Metadata = p.Metadata
	}
	if p.DecayLambda != nil {
		m.DecayLambda = *p.DecayLambda
	}
	m.UpdatedAt = now

	if p.Vectors != nil {
		if len(p.Vectors) == 0 {
			return nil, fmt.Errorf("%w: memory needs at least one sector vector", model.ErrInvalidQuery)
		}
		if err := validateVectors(p.Vectors[0].Sector, p.Vectors); err != nil {
			return nil, err
		}
		if err := s.checkDims(ctx, tx, p.Vectors); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE memory_id = ?`, id); err != nil {
			return nil, model.NewStorageError("delete vectors", err)
		}
		if err := insertVectors(ctx, tx, id, p.Vectors); err != nil {
			return nil, err
		}
		m.PrimarySector = p.Vectors[0].Sector
		m.AdditionalSectors = nil
		for _, sv := range p.Vectors[1:] {
			m.AdditionalSectors = append(m.AdditionalSectors, sv.Sector)
		}
		m.MeanVector = p.Mean
		// fresh vectors carry no compressed form
		m.Cold = false
	}

	sectorsJSON, tagsJSON, metaJSON, err := encodeLists(m.AdditionalSectors, m.Tags, m.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE memories SET content = ?, primary_sector = ?, sectors = ?, tags = ?, meta = ?,
		        decay_lambda = ?, version = ?, updated_at = ?, mean_vec = ?, cold = ?
		 WHERE id = ?`,
		m.Content, string(m.PrimarySector), sectorsJSON, tagsJSON, metaJSON,
		m.DecayLambda, m.Version, toMS(m.UpdatedAt), encodeOptional(m.MeanVector), boolInt(m.Cold), id)
	if err != nil {
		return nil, model.NewStorageError("update memory", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, model.NewStorageError("commit update", err)
	}

	if p.Vectors != nil {
		s.rememberDims(p.Vectors)
		for _, sec := range oldSectors {
			if !m.HasSector(sec) {
				if err := s.index.Remove(ctx, string(sec), id); err != nil {
					s.dropIndex("index remove", sec, id, err)
				}
			}
		}
		for _, sv := range p.Vectors {
			if err := s.index.Upsert(ctx, string(sv.Sector), id, sv.Vector); err != nil {
				s.dropIndex("index update", sv.Sector, id, err)
			}
		}
	}
	return &m, nil
}

// Delete hard-deletes a memory with its vectors and every waypoint touching it.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStorageError("delete", err)
	}
	defer tx.Rollback()

	var sectorsJSON sql.NullString
	var primary string
	err = tx.QueryRowContext(ctx, `SELECT primary_sector, sectors FROM memories WHERE id = ?`, id).Scan(&primary, &sectorsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: memory %s", model.ErrNotFound, id)
	}
	if err != nil {
		return model.NewStorageError("delete", err)
	}

	stmts := []string{
		`DELETE FROM waypoints WHERE src_id = ? OR dst_id = ?`,
		`DELETE FROM vectors WHERE memory_id = ?`,
		`DELETE FROM memories WHERE id = ?`,
	}
	for i, q := range stmts {
		args := []any{id}
		if i == 0 {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return model.NewStorageError("delete", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.NewStorageError("commit delete", err)
	}

	mem := model.Memory{PrimarySector: model.Sector(primary)}
	if sectorsJSON.Valid {
		json.Unmarshal([]byte(sectorsJSON.String), &mem.AdditionalSectors)
	}
	for _, sec := range mem.SectorSet() {
		if err := s.index.Remove(ctx, string(sec), id); err != nil {
			s.dropIndex("index remove", sec, id, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Scan(ctx context.Context, p ScanParams) ([]model.Memory, error) {
	var where []string
	var args []any
	if p.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, p.Owner)
	}
	if p.Sector != "" {
		where = append(where, "id IN (SELECT memory_id FROM vectors WHERE sector = ?)")
		args = append(args, string(p.Sector))
	}
	if !p.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMS(p.Since))
	}
	query := `SELECT ` + memoryColumns + ` FROM memories`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if p.Newest {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY id`
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, sqlLimit(p.Limit), p.Offset)

	return s.queryMemories(ctx, "scan", query, args...)
}

func (s *SQLiteStore) ScanBySector(ctx context.Context, sector model.Sector, limit, offset int) ([]model.Memory, error) {
	return s.Scan(ctx, ScanParams{Sector: sector, Limit: limit, Offset: offset})
}

func (s *SQLiteStore) queryMemories(ctx context.Context, op, query string, args ...any) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, model.NewStorageError(op, err)
		}
		memories = append(memories, m)
	}
	return memories, model.NewStorageError(op, rows.Err())
}

func (s *SQLiteStore) SetSalience(ctx context.Context, p SalienceParams) error {
	sets := []string{"salience = ?"}
	args := []any{model.Clamp01(p.Salience)}
	if !p.LastSeenAt.IsZero() {
		sets = append(sets, "last_seen_at = ?")
		args = append(args, toMS(p.LastSeenAt))
	}
	if !p.DecayedAt.IsZero() {
		sets = append(sets, "decayed_at = ?")
		args = append(args, toMS(p.DecayedAt))
	}
	args = append(args, p.ID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return model.NewStorageError("set salience", err)
	}
	return affectedOrNotFound(res, "memory "+p.ID)
}

func (s *SQLiteStore) SetCold(ctx context.Context, id string, cold bool, compressed []model.SectorVector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStorageError("set cold", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE memories SET cold = ? WHERE id = ?`, boolInt(cold), id)
	if err != nil {
		return model.NewStorageError("set cold", err)
	}
	if err := affectedOrNotFound(res, "memory "+id); err != nil {
		return err
	}

	if !cold {
		if _, err := tx.ExecContext(ctx, `UPDATE vectors SET compressed = NULL WHERE memory_id = ?`, id); err != nil {
			return model.NewStorageError("clear compressed", err)
		}
	}
	for _, sv := range compressed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE vectors SET compressed = ? WHERE memory_id = ? AND sector = ?`,
			vector.Encode(sv.Compressed), id, string(sv.Sector)); err != nil {
			return model.NewStorageError("store compressed", err)
		}
	}
	return model.NewStorageError("commit set cold", tx.Commit())
}

func (s *SQLiteStore) MarkConsolidated(ctx context.Context, ids []string, into string) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{into}, stringArgs(ids)...)
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET consolidated_into = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	return model.NewStorageError("mark consolidated", err)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var primary string
	var sectorsJSON, tagsJSON, meta sql.NullString
	var created, updated, seen, decayed int64
	var mean []byte
	var cold int

	err := row.Scan(
		&m.ID, &m.Owner, &m.Content, &primary, &sectorsJSON, &tagsJSON, &meta,
		&m.Salience, &m.DecayLambda, &m.Version,
		&created, &updated, &seen, &decayed, &mean, &cold, &m.ConsolidatedInto,
	)
	if err != nil {
		return m, err
	}

	m.PrimarySector = model.Sector(primary)
	m.CreatedAt = fromMS(created)
	m.UpdatedAt = fromMS(updated)
	m.LastSeenAt = fromMS(seen)
	m.DecayedAt = fromMS(decayed)
	m.Cold = cold != 0
	if sectorsJSON.Valid {
		json.Unmarshal([]byte(sectorsJSON.String), &m.AdditionalSectors)
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &m.Tags)
	}
	if meta.Valid {
		md, err := model.DecodeMetadata(meta.String)
		if err != nil {
			return m, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
		}
		m.Metadata = md
	}
	if len(mean) > 0 {
		v, err := vector.Decode(mean)
		if err != nil {
			return m, fmt.Errorf("decode mean vector of %s: %w", m.ID, err)
		}
		m.MeanVector = v
	}
	return m, nil
}

func validateVectors(primary model.Sector, vecs []model.SectorVector) error {
	if len(vecs) == 0 {
		return fmt.Errorf("%w: memory needs at least one sector vector", model.ErrInvalidQuery)
	}
	seen := make(map[model.Sector]bool, len(vecs))
	for _, sv := range vecs {
		if !model.ValidSectors[sv.Sector] {
			return fmt.Errorf("%w: unknown sector %q", model.ErrInvalidQuery, sv.Sector)
		}
		if seen[sv.Sector] {
			return fmt.Errorf("%w: duplicate vector for sector %s", model.ErrInvalidQuery, sv.Sector)
		}
		if len(sv.Vector) == 0 {
			return fmt.Errorf("%w: empty vector for sector %s", model.ErrInvalidQuery, sv.Sector)
		}
		seen[sv.Sector] = true
	}
	if !seen[primary] {
		return fmt.Errorf("%w: primary sector %s has no vector", model.ErrInvalidQuery, primary)
	}
	return nil
}

func insertVectors(ctx context.Context, tx *sql.Tx, id string, vecs []model.SectorVector) error {
	for _, sv := range vecs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO vectors (memory_id, sector, dim, v, compressed) VALUES (?, ?, ?, ?, ?)`,
			id, string(sv.Sector), len(sv.Vector), vector.Encode(sv.Vector), encodeOptional(sv.Compressed))
		if err != nil {
			return model.NewStorageError("insert vector", err)
		}
	}
	return nil
}

func encodeLists(sectors []model.Sector, tags []string, meta model.Metadata) (sectorsJSON, tagsJSON, metaJSON any, err error) {
	if len(sectors) > 0 {
		b, _ := json.Marshal(sectors)
		sectorsJSON = string(b)
	}
	if len(tags) > 0 {
		b, _ := json.Marshal(tags)
		tagsJSON = string(b)
	}
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: encode metadata: %v", model.ErrInvalidQuery, err)
		}
		metaJSON = string(b)
	}
	return sectorsJSON, tagsJSON, metaJSON, nil
}

func encodeOptional(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return vector.Encode(v)
}

func affectedOrNotFound(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return model.NewStorageError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, what)
	}
	return nil
}

func toMS(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
