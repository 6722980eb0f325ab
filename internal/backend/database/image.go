package database

import "time"

// BlobState describes whether the bytes of an Image were loaded from the blob store.
type BlobState int

const (
	// BlobNotLoaded is the state of any record read from the metadata store alone.
	BlobNotLoaded BlobState = iota
	BlobLoaded
	// BlobMissing means the record exists but no file was found at its path.
	BlobMissing
	// BlobUnreadable means a file exists but reading it failed.
	BlobUnreadable
)

func (s BlobState) String() string {
	switch s {
	case BlobLoaded:
		return "loaded"
	case BlobMissing:
		return "missing"
	case BlobUnreadable:
		return "unreadable"
	default:
		return "not-loaded"
	}
}

type Image struct {
	ID        string     `db:"id"`
	FileName  string     `db:"file_name"` // extension only once saved, e.g. "png"
	Tags      string     `db:"tags"`
	Patient   *Reference `db:"-"`
	Provider  *Reference `db:"-"`
	Location  *Reference `db:"-"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`

	// ImageData lives only in memory; the bytes are persisted by the blob store.
	ImageData []byte    `db:"-"`
	BlobState BlobState `db:"-"`
}

// IsPlaceholder reports whether the image is the empty record returned for unknown identifiers.
func (i *Image) IsPlaceholder() bool {
	return i == nil || i.ID == ""
}

// Clone returns a shallow copy whose byte slice is not shared with the receiver.
func (i *Image) Clone() *Image {
	if i == nil {
		return nil
	}
	c := *i
	if i.ImageData != nil {
		c.ImageData = append([]byte(nil), i.ImageData...)
	}
	return &c
}

// ReferenceKind names one of the directories an image can be associated with.
type ReferenceKind string

const (
	PatientReference  ReferenceKind = "patient"
	ProviderReference ReferenceKind = "provider"
	LocationReference ReferenceKind = "location"
)

// Valid reports whether k is one of the known directory kinds.
func (k ReferenceKind) Valid() bool {
	switch k {
	case PatientReference, ProviderReference, LocationReference:
		return true
	}
	return false
}

// Reference is an entry of the patient, provider or location directory.
type Reference struct {
	ID      int64  `db:"id"`
	UUID    string `db:"uuid"`
	Display string `db:"display"`
}

func referenceID(ref *Reference) any {
	if ref == nil {
		return nil
	}
	return ref.ID
}
