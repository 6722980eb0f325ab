package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrImageNotFound is returned by UpdateImage when no row has the given identifier.
var ErrImageNotFound = errors.New("image not found")

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
	now              func() time.Time
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	if err := ensureParentDir(connectionString); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
		now:              func() time.Time { return time.Now().UTC() },
	}, nil
}

// ensureParentDir creates the directory of a plain file path. In-memory and
// "file:" URI connection strings are left to the driver.
func ensureParentDir(connectionString string) error {
	if connectionString == "" || connectionString == ":memory:" || strings.HasPrefix(connectionString, "file:") {
		return nil
	}
	dir := filepath.Dir(connectionString)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

func (s *SQLiteDatabase) CreateDatabase() (*sql.DB, error) {
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := runMigrations(s.db); err != nil {
		return nil, err
	}
	return s.db, nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

const selectImageColumns = `
	SELECT i.id, i.file_name, i.tags, i.created_at, i.updated_at,
		p.id, p.uuid, p.display,
		pr.id, pr.uuid, pr.display,
		l.id, l.uuid, l.display
	FROM images i
	LEFT JOIN patients p ON p.id = i.patient_id
	LEFT JOIN providers pr ON pr.id = i.provider_id
	LEFT JOIN locations l ON l.id = i.location_id`

const insertImageQuery = `
	INSERT INTO images (id, file_name, tags, patient_id, provider_id, location_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteDatabase) CreateImage(ctx context.Context, image *Image) (*Image, error) {
	if image == nil {
		return nil, fmt.Errorf("image cannot be nil")
	}

	id := image.ID
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate image id: %w", err)
		}
		id = generated
	}

	createdAt := image.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, insertImageQuery,
		id,
		image.FileName,
		image.Tags,
		referenceID(image.Patient),
		referenceID(image.Provider),
		referenceID(image.Location),
		createdAt.UnixNano(),
		createdAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert image %s: %w", id, err)
	}

	return s.GetImageByID(ctx, id)
}

const updateImageQuery = `
	UPDATE images
	SET file_name = ?, tags = ?, patient_id = ?, provider_id = ?, location_id = ?, updated_at = ?
	WHERE id = ?`

func (s *SQLiteDatabase) UpdateImage(ctx context.Context, image *Image) (*Image, error) {
	if image == nil || image.ID == "" {
		return nil, fmt.Errorf("image id cannot be empty")
	}

	result, err := s.db.ExecContext(ctx, updateImageQuery,
		image.FileName,
		image.Tags,
		referenceID(image.Patient),
		referenceID(image.Provider),
		referenceID(image.Location),
		s.now().UnixNano(),
		image.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update image %s: %w", image.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, image.ID)
	}

	return s.GetImageByID(ctx, image.ID)
}

func (s *SQLiteDatabase) DeleteImage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE id = ?", id)
	return err
}

func (s *SQLiteDatabase) GetImageByID(ctx context.Context, id string) (*Image, error) {
	return s.queryOne(ctx, selectImageColumns+" WHERE i.id = ?", id)
}

func (s *SQLiteDatabase) GetAllImages(ctx context.Context) ([]*Image, error) {
	return s.queryMany(ctx, selectImageColumns+" ORDER BY i.created_at, i.rowid")
}

func (s *SQLiteDatabase) GetImagesByPatientID(ctx context.Context, patientID int64) ([]*Image, error) {
	return s.queryMany(ctx, selectImageColumns+" WHERE i.patient_id = ? ORDER BY i.created_at, i.rowid", patientID)
}

func (s *SQLiteDatabase) GetImagesByProviderID(ctx context.Context, providerID int64) ([]*Image, error) {
	return s.queryMany(ctx, selectImageColumns+" WHERE i.provider_id = ? ORDER BY i.created_at, i.rowid", providerID)
}

func (s *SQLiteDatabase) GetImagesByLocationID(ctx context.Context, locationID int64) ([]*Image, error) {
	return s.queryMany(ctx, selectImageColumns+" WHERE i.location_id = ? ORDER BY i.created_at, i.rowid", locationID)
}

// Tags are matched as substrings, so "est" finds "test image".
const tagCondition = ` WHERE i.tags LIKE '%' || ? || '%' ESCAPE '\'`

func (s *SQLiteDatabase) GetImagesByTag(ctx context.Context, tag string) ([]*Image, error) {
	return s.queryMany(ctx, selectImageColumns+tagCondition+" ORDER BY i.created_at, i.rowid", escapeLike(tag))
}

func (s *SQLiteDatabase) GetLatestImageByTag(ctx context.Context, tag string) (*Image, error) {
	return s.queryOne(ctx, selectImageColumns+tagCondition+" ORDER BY i.created_at DESC, i.rowid DESC LIMIT 1", escapeLike(tag))
}

func (s *SQLiteDatabase) GetLatestImageByTagForPatient(ctx context.Context, tag string, patientID int64) (*Image, error) {
	return s.queryOne(ctx,
		selectImageColumns+tagCondition+" AND i.patient_id = ? ORDER BY i.created_at DESC, i.rowid DESC LIMIT 1",
		escapeLike(tag), patientID)
}

func (s *SQLiteDatabase) GetReferenceByUUID(ctx context.Context, kind ReferenceKind, uuid string) (*Reference, error) {
	table, err := referenceTable(kind)
	if err != nil {
		return nil, err
	}

	var ref Reference
	err = s.db.QueryRowContext(ctx, "SELECT id, uuid, display FROM "+table+" WHERE uuid = ?", uuid).
		Scan(&ref.ID, &ref.UUID, &ref.Display)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s %s: %w", kind, uuid, err)
	}
	return &ref, nil
}

func (s *SQLiteDatabase) UpsertReference(ctx context.Context, kind ReferenceKind, ref *Reference) (*Reference, error) {
	if ref == nil || ref.UUID == "" {
		return nil, fmt.Errorf("%s uuid cannot be empty", kind)
	}
	table, err := referenceTable(kind)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO "+table+" (uuid, display) VALUES (?, ?) ON CONFLICT(uuid) DO UPDATE SET display = excluded.display",
		ref.UUID, ref.Display)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert %s %s: %w", kind, ref.UUID, err)
	}
	return s.GetReferenceByUUID(ctx, kind, ref.UUID)
}

func referenceTable(kind ReferenceKind) (string, error) {
	switch kind {
	case PatientReference:
		return "patients", nil
	case ProviderReference:
		return "providers", nil
	case LocationReference:
		return "locations", nil
	default:
		return "", fmt.Errorf("unknown reference kind: %q", kind)
	}
}

func (s *SQLiteDatabase) queryOne(ctx context.Context, query string, args ...any) (*Image, error) {
	images, err := s.queryMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, nil
	}
	return images[0], nil
}

func (s *SQLiteDatabase) queryMany(ctx context.Context, query string, args ...any) ([]*Image, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	images := make([]*Image, 0)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return images, nil
}

// referenceRow holds the nullable columns of a LEFT JOINed directory entry.
type referenceRow struct {
	ID      sql.NullInt64
	UUID    sql.NullString
	Display sql.NullString
}

func (r referenceRow) toReference() *Reference {
	if !r.ID.Valid {
		return nil
	}
	return &Reference{ID: r.ID.Int64, UUID: r.UUID.String, Display: r.Display.String}
}

func scanImage(rows *sql.Rows) (*Image, error) {
	var img Image
	var createdAt, updatedAt int64
	var patient, provider, location referenceRow
	err := rows.Scan(
		&img.ID, &img.FileName, &img.Tags, &createdAt, &updatedAt,
		&patient.ID, &patient.UUID, &patient.Display,
		&provider.ID, &provider.UUID, &provider.Display,
		&location.ID, &location.UUID, &location.Display,
	)
	if err != nil {
		return nil, err
	}

	img.CreatedAt = time.Unix(0, createdAt).UTC()
	img.UpdatedAt = time.Unix(0, updatedAt).UTC()
	img.Patient = patient.toReference()
	img.Provider = provider.toReference()
	img.Location = location.toReference()
	return &img, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
