package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jo-hoe/patientimages/internal/backend/blobstore"
	"github.com/jo-hoe/patientimages/internal/backend/database"
	"github.com/jo-hoe/patientimages/internal/backend/directory"
	"github.com/jo-hoe/patientimages/internal/backend/lock"
	"github.com/jo-hoe/patientimages/internal/backend/metrics"
)

// ImageService keeps image metadata in the database and image bytes in the
// blob store, and keeps the two consistent on every write.
type ImageService struct {
	config   *ServiceConfig
	database database.DatabaseService
	blobs    *blobstore.FileStore
	resolver *directory.Resolver
	locker   lock.Locker
	log      zerolog.Logger
}

// NewImageService opens the configured database and lock backend, seeds the
// configured directory references and removes staged files left by a crash.
func NewImageService(config *ServiceConfig, log zerolog.Logger) (*ImageService, error) {
	databaseService, err := getDatabaseService(config, log)
	if err != nil {
		return nil, err
	}
	locker, err := lock.NewLocker(config.Lock, log)
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize lock backend: %w", err)
	}

	service, err := newImageService(config, databaseService, locker, log)
	if err != nil {
		_ = locker.Close()
		_ = databaseService.Close()
		return nil, err
	}
	if err := service.seedReferences(context.Background()); err != nil {
		_ = service.Close()
		return nil, err
	}
	if removed, err := service.blobs.CleanupStaged(); err != nil {
		service.log.Warn().Err(err).Msg("failed to clean up staged files")
	} else if removed > 0 {
		service.log.Info().Int("count", removed).Msg("removed staged files from an earlier run")
	}
	return service, nil
}

func newImageService(config *ServiceConfig, databaseService database.DatabaseService, locker lock.Locker, log zerolog.Logger) (*ImageService, error) {
	resolver, err := directory.NewResolver(databaseService, config.Directory.CacheSize)
	if err != nil {
		return nil, err
	}
	return &ImageService{
		config:   config,
		database: databaseService,
		blobs:    blobstore.NewFileStore(config.ImageDirectoryPath(), log),
		resolver: resolver,
		locker:   locker,
		log:      log.With().Str("component", "image-service").Logger(),
	}, nil
}

func getDatabaseService(config *ServiceConfig, log zerolog.Logger) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info().Str("type", config.Database.Type).Msg("database initialized successfully")
	return databaseService, nil
}

func (s *ImageService) seedReferences(ctx context.Context) error {
	for _, ref := range s.config.References {
		_, err := s.RegisterReference(ctx, database.ReferenceKind(ref.Kind), &database.Reference{
			UUID:    ref.UUID,
			Display: ref.Display,
		})
		if err != nil {
			return fmt.Errorf("failed to seed %s %s: %w", ref.Kind, ref.UUID, err)
		}
	}
	if len(s.config.References) > 0 {
		s.log.Info().Int("count", len(s.config.References)).Msg("seeded directory references")
	}
	return nil
}

// Close releases the lock backend and the database.
func (s *ImageService) Close() error {
	return errors.Join(s.locker.Close(), s.database.Close())
}

// Health checks that the database answers and the image directory is writable.
func (s *ImageService) Health() error {
	if !s.database.DoesDatabaseExist() {
		return errors.New("database schema not available")
	}
	return s.blobs.Health()
}

// ImageDirectory returns the directory holding the image files.
func (s *ImageService) ImageDirectory() string {
	return s.blobs.Dir()
}

// PathFor returns where the bytes of a saved image are stored.
func (s *ImageService) PathFor(img *database.Image) string {
	return s.blobs.Path(blobName(img.ID, img.FileName))
}

// RegisterReference creates or updates a patient, provider or location entry.
func (s *ImageService) RegisterReference(ctx context.Context, kind database.ReferenceKind, ref *database.Reference) (*database.Reference, error) {
	if ref == nil || ref.UUID == "" {
		return nil, fmt.Errorf("%w: reference uuid cannot be empty", ErrInvalidArgument)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown reference kind %q", ErrInvalidArgument, kind)
	}
	return s.resolver.Register(ctx, kind, ref)
}

// ResolveReference returns the directory entry for uuid. Unknown uuids are
// reported as ErrInvalidArgument.
func (s *ImageService) ResolveReference(ctx context.Context, kind database.ReferenceKind, uuid string) (*database.Reference, error) {
	ref, err := s.resolver.Resolve(ctx, kind, uuid)
	if errors.Is(err, directory.ErrUnknownReference) {
		return nil, fmt.Errorf("%w: %s uuid %q is invalid", ErrInvalidArgument, kind, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s %s: %w", kind, uuid, err)
	}
	return ref, nil
}

// SaveImage persists a new image. FileName is reduced to its extension and the
// bytes are written to <id>.<extension>. The returned record has no bytes
// attached. Saving with the ID of an existing image updates it instead.
func (s *ImageService) SaveImage(ctx context.Context, img *database.Image) (saved *database.Image, err error) {
	defer func() { metrics.RecordOperation("save", err) }()

	if img == nil {
		return nil, fmt.Errorf("%w: image cannot be nil", ErrInvalidArgument)
	}
	if img.ImageData == nil {
		return nil, fmt.Errorf("%w: image data is missing", ErrInvalidArgument)
	}
	extension, err := s.deriveExtension(img.FileName)
	if err != nil {
		return nil, err
	}

	if img.ID != "" {
		unlock, err := s.locker.Lock(ctx, img.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock image %s: %w", img.ID, err)
		}
		defer unlock()

		existing, err := s.database.GetImageByID(ctx, img.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", img.ID, err)
		}
		if existing != nil {
			updated, err := s.updateLocked(ctx, existing, img, extension)
			if err != nil {
				return nil, err
			}
			updated.ImageData = nil
			updated.BlobState = database.BlobNotLoaded
			return updated, nil
		}
	}

	return s.create(ctx, img, extension)
}

func (s *ImageService) create(ctx context.Context, img *database.Image, extension string) (*database.Image, error) {
	record := img.Clone()
	record.FileName = extension
	record.ImageData = nil
	record.BlobState = database.BlobNotLoaded
	if err := s.resolveAssociations(ctx, record); err != nil {
		return nil, err
	}

	staged, err := s.blobs.Stage(img.ImageData)
	if err != nil {
		metrics.RecordBlobFailure("stage", "write")
		return nil, fmt.Errorf("failed to stage image data: %w", err)
	}
	defer s.discard(staged)

	created, err := s.database.CreateImage(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to save image metadata: %w", err)
	}

	if err := staged.Commit(blobName(created.ID, extension)); err != nil {
		metrics.RecordBlobFailure("commit", "write")
		compensateErr := s.database.DeleteImage(context.WithoutCancel(ctx), created.ID)
		metrics.RecordCompensation("save", compensateErr)
		if compensateErr != nil {
			s.log.Error().Err(compensateErr).Str("id", created.ID).Msg("failed to remove metadata after blob commit failure")
		}
		return nil, fmt.Errorf("failed to write image %s: %w", created.ID, err)
	}
	metrics.RecordBlobWrite(len(img.ImageData))

	s.log.Debug().Str("id", created.ID).Str("file", s.PathFor(created)).Msg("image saved")
	return created, nil
}

// UpdateImage replaces the metadata of an existing image. New bytes replace the
// stored file; nil bytes keep it, renaming it when the extension changed. The
// returned record has its bytes attached.
func (s *ImageService) UpdateImage(ctx context.Context, img *database.Image) (updated *database.Image, err error) {
	defer func() { metrics.RecordOperation("update", err) }()

	if img == nil || img.ID == "" {
		return nil, fmt.Errorf("%w: image id cannot be empty", ErrInvalidArgument)
	}

	unlock, err := s.locker.Lock(ctx, img.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock image %s: %w", img.ID, err)
	}
	defer unlock()

	existing, err := s.database.GetImageByID(ctx, img.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", img.ID, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: image %s does not exist", ErrInvalidArgument, img.ID)
	}

	extension := existing.FileName
	if img.FileName != "" {
		if extension, err = s.deriveExtension(img.FileName); err != nil {
			return nil, err
		}
	}
	return s.updateLocked(ctx, existing, img, extension)
}

// updateLocked must be called with the lock for existing.ID held.
func (s *ImageService) updateLocked(ctx context.Context, existing, img *database.Image, extension string) (*database.Image, error) {
	oldName := blobName(existing.ID, existing.FileName)
	newName := blobName(existing.ID, extension)

	record := img.Clone()
	record.ID = existing.ID
	record.FileName = extension
	record.ImageData = nil
	record.CreatedAt = existing.CreatedAt
	if err := s.resolveAssociations(ctx, record); err != nil {
		return nil, err
	}

	var staged *blobstore.StagedBlob
	if img.ImageData != nil {
		var err error
		if staged, err = s.blobs.Stage(img.ImageData); err != nil {
			metrics.RecordBlobFailure("stage", "write")
			return nil, fmt.Errorf("failed to stage image data: %w", err)
		}
		defer s.discard(staged)
	}

	updated, err := s.database.UpdateImage(ctx, record)
	if errors.Is(err, database.ErrImageNotFound) {
		return nil, fmt.Errorf("%w: image %s does not exist", ErrInvalidArgument, existing.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update image metadata: %w", err)
	}

	switch {
	case staged != nil:
		if err := staged.Commit(newName); err != nil {
			metrics.RecordBlobFailure("commit", "write")
			s.restoreMetadata(ctx, existing)
			return nil, fmt.Errorf("failed to write image %s: %w", existing.ID, err)
		}
		metrics.RecordBlobWrite(len(img.ImageData))
		if oldName != newName {
			if err := s.blobs.Remove(oldName); err != nil {
				metrics.RecordBlobFailure("remove", "io")
				s.log.Warn().Err(err).Str("id", existing.ID).Str("file", oldName).Msg("failed to remove replaced image file")
			}
		}
		updated.ImageData = append([]byte(nil), img.ImageData...)
		updated.BlobState = database.BlobLoaded
		return updated, nil

	case oldName != newName:
		err := s.blobs.Rename(oldName, newName)
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn().Str("id", existing.ID).Str("file", oldName).Msg("image file missing, nothing to rename")
		} else if err != nil {
			metrics.RecordBlobFailure("rename", "io")
			s.restoreMetadata(ctx, existing)
			return nil, fmt.Errorf("failed to rename image %s: %w", existing.ID, err)
		}
	}

	s.attachBlob(updated)
	return updated, nil
}

// restoreMetadata writes back the metadata an update replaced before its blob
// write failed.
func (s *ImageService) restoreMetadata(ctx context.Context, previous *database.Image) {
	_, err := s.database.UpdateImage(context.WithoutCancel(ctx), previous)
	metrics.RecordCompensation("update", err)
	if err != nil {
		s.log.Error().Err(err).Str("id", previous.ID).Msg("failed to restore metadata after blob write failure")
	}
}

// DeleteImage removes the metadata of img. The image file is kept unless
// blobStore.removeOnDelete is enabled. Deleting an unknown image is a no-op.
func (s *ImageService) DeleteImage(ctx context.Context, img *database.Image) (err error) {
	defer func() { metrics.RecordOperation("delete", err) }()

	if img == nil || img.ID == "" {
		return fmt.Errorf("%w: image id cannot be empty", ErrInvalidArgument)
	}

	unlock, err := s.locker.Lock(ctx, img.ID)
	if err != nil {
		return fmt.Errorf("failed to lock image %s: %w", img.ID, err)
	}
	defer unlock()

	existing, err := s.database.GetImageByID(ctx, img.ID)
	if err != nil {
		return fmt.Errorf("failed to load image %s: %w", img.ID, err)
	}
	if err := s.database.DeleteImage(ctx, img.ID); err != nil {
		return fmt.Errorf("failed to delete image %s: %w", img.ID, err)
	}

	if existing != nil && s.config.BlobStore.RemoveOnDelete {
		if err := s.blobs.Remove(blobName(existing.ID, existing.FileName)); err != nil {
			metrics.RecordBlobFailure("remove", "io")
			s.log.Warn().Err(err).Str("id", existing.ID).Msg("failed to remove image file")
		}
	}
	return nil
}

// GetImageByID returns the image with its bytes attached. An unknown id yields
// an empty placeholder record rather than an error. A missing or unreadable
// file is reported through BlobState.
func (s *ImageService) GetImageByID(ctx context.Context, id string) (img *database.Image, err error) {
	defer func() { metrics.RecordOperation("get", err) }()

	img, err = s.database.GetImageByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", id, err)
	}
	if img == nil {
		return &database.Image{}, nil
	}
	s.attachBlob(img)
	return img, nil
}

// GetAllImages returns the metadata of every image, without bytes.
func (s *ImageService) GetAllImages(ctx context.Context) (images []*database.Image, err error) {
	defer func() { metrics.RecordOperation("get_all", err) }()
	return s.database.GetAllImages(ctx)
}

// GetImagesByProviderUUID returns the images associated with the provider uuid.
func (s *ImageService) GetImagesByProviderUUID(ctx context.Context, providerUUID string) (images []*database.Image, err error) {
	defer func() { metrics.RecordOperation("query_provider", err) }()

	provider, err := s.ResolveReference(ctx, database.ProviderReference, providerUUID)
	if err != nil {
		return nil, err
	}
	return s.database.GetImagesByProviderID(ctx, provider.ID)
}

// GetImagesByPatientUUID returns the images associated with the patient uuid.
func (s *ImageService) GetImagesByPatientUUID(ctx context.Context, patientUUID string) (images []*database.Image, err error) {
	defer func() { metrics.RecordOperation("query_patient", err) }()

	patient, err := s.ResolveReference(ctx, database.PatientReference, patientUUID)
	if err != nil {
		return nil, err
	}
	return s.database.GetImagesByPatientID(ctx, patient.ID)
}

// GetImagesByLocationUUID returns the images associated with the location uuid.
func (s *ImageService) GetImagesByLocationUUID(ctx context.Context, locationUUID string) (images []*database.Image, err error) {
	defer func() { metrics.RecordOperation("query_location", err) }()

	location, err := s.ResolveReference(ctx, database.LocationReference, locationUUID)
	if err != nil {
		return nil, err
	}
	return s.database.GetImagesByLocationID(ctx, location.ID)
}

// GetImagesByTag returns the images whose tags contain tag.
func (s *ImageService) GetImagesByTag(ctx context.Context, tag string) (images []*database.Image, err error) {
	defer func() { metrics.RecordOperation("query_tag", err) }()
	return s.database.GetImagesByTag(ctx, tag)
}

// GetLatestImageByTag returns the most recently created image whose tags
// contain tag, with its bytes attached.
func (s *ImageService) GetLatestImageByTag(ctx context.Context, tag string) (img *database.Image, err error) {
	defer func() { metrics.RecordOperation("latest_tag", err) }()

	img, err = s.database.GetLatestImageByTag(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest image for tag %q: %w", tag, err)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: no image found for tag %q", ErrInvalidArgument, tag)
	}
	s.attachBlob(img)
	return img, nil
}

// GetLatestImageByTagForPatient is GetLatestImageByTag restricted to one patient.
func (s *ImageService) GetLatestImageByTagForPatient(ctx context.Context, tag, patientUUID string) (img *database.Image, err error) {
	defer func() { metrics.RecordOperation("latest_tag_patient", err) }()

	patient, err := s.ResolveReference(ctx, database.PatientReference, patientUUID)
	if err != nil {
		return nil, err
	}
	img, err = s.database.GetLatestImageByTagForPatient(ctx, tag, patient.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest image for tag %q: %w", tag, err)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: no image found for tag %q and patient %s", ErrInvalidArgument, tag, patientUUID)
	}
	s.attachBlob(img)
	return img, nil
}

// resolveAssociations replaces the patient, provider and location of img,
// given by uuid, with their directory entries.
func (s *ImageService) resolveAssociations(ctx context.Context, img *database.Image) error {
	associations := []struct {
		kind database.ReferenceKind
		ref  **database.Reference
	}{
		{database.PatientReference, &img.Patient},
		{database.ProviderReference, &img.Provider},
		{database.LocationReference, &img.Location},
	}
	for _, a := range associations {
		if *a.ref == nil {
			continue
		}
		resolved, err := s.ResolveReference(ctx, a.kind, (*a.ref).UUID)
		if err != nil {
			return err
		}
		*a.ref = resolved
	}
	return nil
}

// attachBlob loads the bytes of img. Read failures are logged and recorded in
// BlobState instead of being returned.
func (s *ImageService) attachBlob(img *database.Image) {
	name := blobName(img.ID, img.FileName)
	data, err := s.blobs.Read(name)
	switch {
	case err == nil:
		img.ImageData = data
		img.BlobState = database.BlobLoaded
	case errors.Is(err, fs.ErrNotExist):
		img.ImageData = nil
		img.BlobState = database.BlobMissing
		metrics.RecordBlobFailure("read", "missing")
		s.log.Warn().Str("id", img.ID).Str("file", s.blobs.Path(name)).Msg("image file not found")
	default:
		img.ImageData = nil
		img.BlobState = database.BlobUnreadable
		metrics.RecordBlobFailure("read", "io")
		s.log.Error().Err(err).Str("id", img.ID).Str("file", s.blobs.Path(name)).Msg("failed to read image file")
	}
}

func (s *ImageService) discard(staged *blobstore.StagedBlob) {
	if err := staged.Discard(); err != nil {
		s.log.Warn().Err(err).Msg("failed to discard staged image data")
	}
}

// deriveExtension reduces a file name to the text after its last dot. A name
// without a dot is used whole; an empty name gets the default extension.
func (s *ImageService) deriveExtension(fileName string) (string, error) {
	extension := extensionOf(fileName, s.config.DefaultExtension)
	if strings.ContainsAny(extension, `/\`) {
		return "", fmt.Errorf("%w: file name %q has no usable extension", ErrInvalidArgument, fileName)
	}
	return extension, nil
}

func extensionOf(fileName, defaultExtension string) string {
	if fileName == "" {
		return defaultExtension
	}
	parts := strings.Split(fileName, ".")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return defaultExtension
	}
	return parts[len(parts)-1]
}

func blobName(id, extension string) string {
	return id + "." + extension
}
