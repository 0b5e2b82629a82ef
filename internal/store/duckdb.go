package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-webgis/internal/auth"
	"github.com/joeblew999/plat-webgis/internal/db"
	"github.com/joeblew999/plat-webgis/internal/layer"
)

var duckdbSchema = []string{
	`CREATE SEQUENCE IF NOT EXISTS layers_seq`,
	`CREATE TABLE IF NOT EXISTS layers (
		id            VARCHAR PRIMARY KEY,
		seq           BIGINT NOT NULL DEFAULT nextval('layers_seq'),
		name          VARCHAR NOT NULL,
		type          VARCHAR NOT NULL,
		tahun         INTEGER,
		description   VARCHAR NOT NULL DEFAULT '',
		file_path     VARCHAR NOT NULL,
		file_name     VARCHAR NOT NULL,
		file_size     BIGINT NOT NULL DEFAULT 0,
		created_by    VARCHAR NOT NULL,
		created_at    TIMESTAMP NOT NULL,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		feature_count INTEGER NOT NULL DEFAULT 0,
		geometry_type VARCHAR,
		min_lng       DOUBLE,
		min_lat       DOUBLE,
		max_lng       DOUBLE,
		max_lat       DOUBLE
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		uid          VARCHAR PRIMARY KEY,
		email        VARCHAR NOT NULL,
		display_name VARCHAR NOT NULL DEFAULT '',
		photo_url    VARCHAR NOT NULL DEFAULT '',
		role         VARCHAR NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		last_login   TIMESTAMP NOT NULL
	)`,
}

const layerColumns = `id, name, type, tahun, description, file_path, file_name, file_size,
	created_by, created_at, is_active, feature_count, geometry_type, min_lng, min_lat, max_lng, max_lat`

// DuckDB stores layers in a DuckDB database.
type DuckDB struct {
	db *sql.DB
}

// OpenDuckDB opens (and migrates) the database under dataDir.
// An empty dataDir gives an in-memory database.
func OpenDuckDB(ctx context.Context, dataDir string) (*DuckDB, error) {
	conn, err := db.Open(ctx, db.Config{DataDir: dataDir, DBName: "webgis"})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn, duckdbSchema...); err != nil {
		conn.Close()
		return nil, err
	}
	return &DuckDB{db: conn}, nil
}

// Close closes the database.
func (s *DuckDB) Close() error {
	return s.db.Close()
}

func (s *DuckDB) Create(ctx context.Context, l *layer.Layer) (string, error) {
	if err := prepareCreate(l, now()); err != nil {
		return "", err
	}
	l.ID = uuid.NewString()

	var (
		geomType                       sql.NullString
		minLng, minLat, maxLng, maxLat sql.NullFloat64
	)
	if b := l.Metadata.Bounds; b != nil {
		geomType = sql.NullString{String: b.Type, Valid: true}
		minLng = sql.NullFloat64{Float64: b.BBox[0], Valid: true}
		minLat = sql.NullFloat64{Float64: b.BBox[1], Valid: true}
		maxLng = sql.NullFloat64{Float64: b.BBox[2], Valid: true}
		maxLat = sql.NullFloat64{Float64: b.BBox[3], Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO layers (`+layerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, string(l.Type), nullInt(l.Year), l.Description,
		l.FilePath, l.FileName, l.FileSize, l.CreatedBy, l.CreatedAt, l.IsActive,
		l.Metadata.FeatureCount, geomType, minLng, minLat, maxLng, maxLat,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert layer: %v", layer.ErrStorage, err)
	}
	return l.ID, nil
}

func (s *DuckDB) List(ctx context.Context, activeOnly bool) ([]layer.Layer, error) {
	query := `SELECT ` + layerColumns + ` FROM layers`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at DESC, seq DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list layers: %v", layer.ErrStorage, err)
	}
	defer rows.Close()

	layers := []layer.Layer{}
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list layers: %v", layer.ErrStorage, err)
	}
	return layers, nil
}

func (s *DuckDB) Get(ctx context.Context, id string) (layer.Layer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+layerColumns+` FROM layers WHERE id = ?`, id)
	l, err := scanLayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return layer.Layer{}, notFound(id)
	}
	return l, err
}

func (s *DuckDB) Update(ctx context.Context, id string, f layer.Fields) (layer.Layer, error) {
	f, err := f.Normalize()
	if err != nil {
		return layer.Layer{}, err
	}

	var desc sql.NullString
	if f.Description != nil {
		desc = sql.NullString{String: *f.Description, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE layers
		SET type = ?, tahun = ?, name = ?, description = COALESCE(?, description)
		WHERE id = ?`,
		string(f.Type), nullInt(f.Year), layer.GenerateName(f.Type, f.Year), desc, id,
	)
	if err != nil {
		return layer.Layer{}, fmt.Errorf("%w: update layer: %v", layer.ErrStorage, err)
	}
	if err := expectRow(res, id); err != nil {
		return layer.Layer{}, err
	}
	return s.Get(ctx, id)
}

func (s *DuckDB) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM layers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete layer: %v", layer.ErrStorage, err)
	}
	return expectRow(res, id)
}

func (s *DuckDB) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE layers SET is_active = FALSE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: deactivate layer: %v", layer.ErrStorage, err)
	}
	return expectRow(res, id)
}

func (s *DuckDB) GetUser(ctx context.Context, uid string) (auth.User, bool, error) {
	var u auth.User
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT uid, email, display_name, photo_url, role, created_at, last_login
		FROM users WHERE uid = ?`, uid).
		Scan(&u.UID, &u.Email, &u.DisplayName, &u.PhotoURL, &role, &u.CreatedAt, &u.LastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, false, nil
	}
	if err != nil {
		return auth.User{}, false, fmt.Errorf("%w: get user: %v", layer.ErrStorage, err)
	}
	u.Role = auth.Role(role)
	return u, true, nil
}

func (s *DuckDB) SaveUser(ctx context.Context, u auth.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (uid, email, display_name, photo_url, role, created_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			photo_url = excluded.photo_url,
			role = excluded.role,
			last_login = excluded.last_login`,
		u.UID, u.Email, u.DisplayName, u.PhotoURL, string(u.Role), u.CreatedAt, u.LastLogin,
	)
	if err != nil {
		return fmt.Errorf("%w: save user: %v", layer.ErrStorage, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLayer(row scanner) (layer.Layer, error) {
	var (
		l                              layer.Layer
		typ                            string
		tahun                          sql.NullInt64
		geomType                       sql.NullString
		minLng, minLat, maxLng, maxLat sql.NullFloat64
	)
	err := row.Scan(&l.ID, &l.Name, &typ, &tahun, &l.Description, &l.FilePath, &l.FileName, &l.FileSize,
		&l.CreatedBy, &l.CreatedAt, &l.IsActive, &l.Metadata.FeatureCount,
		&geomType, &minLng, &minLat, &maxLng, &maxLat)
	if errors.Is(err, sql.ErrNoRows) {
		return layer.Layer{}, err
	}
	if err != nil {
		return layer.Layer{}, fmt.Errorf("%w: scan layer: %v", layer.ErrStorage, err)
	}

	l.Type = layer.Type(typ)
	if tahun.Valid {
		y := int(tahun.Int64)
		l.Year = &y
	}
	l.CreatedAt = l.CreatedAt.UTC()
	if geomType.Valid && minLng.Valid && minLat.Valid && maxLng.Valid && maxLat.Valid {
		l.Metadata.Bounds = &layer.Bounds{
			Type: geomType.String,
			BBox: [4]float64{minLng.Float64, minLat.Float64, maxLng.Float64, maxLat.Float64},
		}
	}
	return l, nil
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", layer.ErrStorage, err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
