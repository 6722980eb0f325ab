package database

import (
	"context"
	"database/sql"
)

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	ImageStore
	DirectoryStore
}

// ImageStore persists image metadata. Lookups that find nothing return a nil
// image and a nil error.
type ImageStore interface {
	// CreateImage inserts a new row. An identifier is generated when image.ID is empty.
	CreateImage(ctx context.Context, image *Image) (*Image, error)
	UpdateImage(ctx context.Context, image *Image) (*Image, error)
	DeleteImage(ctx context.Context, id string) error
	GetImageByID(ctx context.Context, id string) (*Image, error)
	GetAllImages(ctx context.Context) ([]*Image, error)

	GetImagesByPatientID(ctx context.Context, patientID int64) ([]*Image, error)
	GetImagesByProviderID(ctx context.Context, providerID int64) ([]*Image, error)
	GetImagesByLocationID(ctx context.Context, locationID int64) ([]*Image, error)
	GetImagesByTag(ctx context.Context, tag string) ([]*Image, error)
	GetLatestImageByTag(ctx context.Context, tag string) (*Image, error)
	GetLatestImageByTagForPatient(ctx context.Context, tag string, patientID int64) (*Image, error)
}

// DirectoryStore holds the patient, provider and location directories images refer to.
type DirectoryStore interface {
	GetReferenceByUUID(ctx context.Context, kind ReferenceKind, uuid string) (*Reference, error)
	UpsertReference(ctx context.Context, kind ReferenceKind, ref *Reference) (*Reference, error)
}
