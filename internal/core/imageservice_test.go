package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jo-hoe/patientimages/internal/backend/database"
	"github.com/jo-hoe/patientimages/internal/backend/lock"
)

func newTestConfig(t *testing.T) *ServiceConfig {
	t.Helper()
	cfg := &ServiceConfig{
		DataRoot: t.TempDir(),
		Database: Database{
			Type:             "sqlite",
			ConnectionString: ":memory:",
		},
	}
	cfg.applyDefaults()
	return cfg
}

func newTestImageService(t *testing.T, cfg *ServiceConfig) *ImageService {
	t.Helper()
	if cfg == nil {
		cfg = newTestConfig(t)
	}
	svc, err := NewImageService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewImageService error: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// newServiceWithDatabase builds a service around a wrapped database so tests can inject failures.
func newServiceWithDatabase(t *testing.T, wrap func(database.DatabaseService) database.DatabaseService) *ImageService {
	t.Helper()
	cfg := newTestConfig(t)
	db, err := database.NewDatabase("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewDatabase error: %v", err)
	}
	svc, err := newImageService(cfg, wrap(db), lock.NewMemoryLocker(), zerolog.Nop())
	if err != nil {
		t.Fatalf("newImageService error: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

type failingCreateDatabase struct {
	database.DatabaseService
}

func (failingCreateDatabase) CreateImage(context.Context, *database.Image) (*database.Image, error) {
	return nil, errors.New("disk full")
}

func mustSave(t *testing.T, svc *ImageService, img *database.Image) *database.Image {
	t.Helper()
	saved, err := svc.SaveImage(context.Background(), img)
	if err != nil {
		t.Fatalf("SaveImage error: %v", err)
	}
	return saved
}

func mustRegister(t *testing.T, svc *ImageService, kind database.ReferenceKind, uuid string) *database.Reference {
	t.Helper()
	ref, err := svc.RegisterReference(context.Background(), kind, &database.Reference{UUID: uuid, Display: uuid})
	if err != nil {
		t.Fatalf("RegisterReference(%s, %s) error: %v", kind, uuid, err)
	}
	return ref
}

// dirEntries lists the file names in the image directory.
func dirEntries(t *testing.T, svc *ImageService) []string {
	t.Helper()
	entries, err := os.ReadDir(svc.ImageDirectory())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSaveImage_WritesBytesUnderDerivedName(t *testing.T) {
	svc := newTestImageService(t, nil)
	data := []byte{1, 2, 3, 4}

	saved := mustSave(t, svc, &database.Image{FileName: "mytest.jpg", Tags: "xray", ImageData: data})

	if saved.ID == "" {
		t.Fatal("expected generated id")
	}
	if saved.FileName != "jpg" {
		t.Errorf("expected file name reduced to extension, got %q", saved.FileName)
	}
	if saved.ImageData != nil {
		t.Error("expected saved record without bytes")
	}

	wantPath := filepath.Join(svc.ImageDirectory(), saved.ID+".jpg")
	if got := svc.PathFor(saved); got != wantPath {
		t.Errorf("PathFor = %q, want %q", got, wantPath)
	}
	onDisk, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Errorf("stored bytes = %v, want %v", onDisk, data)
	}
}

func TestSaveImage_DefaultExtension(t *testing.T) {
	svc := newTestImageService(t, nil)

	saved := mustSave(t, svc, &database.Image{ImageData: []byte("x")})

	if saved.FileName != "png" {
		t.Errorf("expected default extension png, got %q", saved.FileName)
	}
	if _, err := os.Stat(filepath.Join(svc.ImageDirectory(), saved.ID+".png")); err != nil {
		t.Errorf("expected file at default extension path: %v", err)
	}
}

func TestExtensionOf(t *testing.T) {
	tests := []struct {
		fileName string
		want     string
	}{
		{"", "png"},
		{"mytest.jpg", "jpg"},
		{"archive.tar.gz", "gz"},
		{"noextension", "noextension"},
		{"trailing.", "trailing"},
		{"...", "png"},
		{".hidden", "hidden"},
	}
	for _, tt := range tests {
		if got := extensionOf(tt.fileName, "png"); got != tt.want {
			t.Errorf("extensionOf(%q) = %q, want %q", tt.fileName, got, tt.want)
		}
	}
}

func TestSaveImage_InvalidInput(t *testing.T) {
	svc := newTestImageService(t, nil)
	ctx := context.Background()

	if _, err := svc.SaveImage(ctx, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil image: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.SaveImage(ctx, &database.Image{FileName: "a.png"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("missing data: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.SaveImage(ctx, &database.Image{FileName: "a./etc", ImageData: []byte("x")}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("separator in extension: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.SaveImage(ctx, &database.Image{
		ImageData: []byte("x"),
		Patient:   &database.Reference{UUID: "unknown"},
	}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown patient: expected ErrInvalidArgument, got %v", err)
	}
	if got := dirEntries(t, svc); len(got) != 0 {
		t.Errorf("expected no files after rejected saves, got %v", got)
	}
}

func TestGetImageByID(t *testing.T) {
	svc := newTestImageService(t, nil)
	ctx := context.Background()
	patient := mustRegister(t, svc, database.PatientReference, "patient-1")

	saved := mustSave(t, svc, &database.Image{
		FileName:  "scan.tiff",
		Tags:      "ct",
		ImageData: []byte("tiff-bytes"),
		Patient:   &database.Reference{UUID: patient.UUID},
	})

	got, err := svc.GetImageByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetImageByID error: %v", err)
	}
	if got.BlobState != database.BlobLoaded {
		t.Errorf("BlobState = %v, want loaded", got.BlobState)
	}
	if string(got.ImageData) != "tiff-bytes" {
		t.Errorf("ImageData = %q", got.ImageData)
	}
	if got.Patient == nil || got.Patient.UUID != "patient-1" {
		t.Errorf("expected patient association, got %+v", got.Patient)
	}
	if got.Provider != nil || got.Location != nil {
		t.Errorf("expected no provider or location, got %+v %+v", got.Provider, got.Location)
	}
}

func TestGetImageByID_UnknownReturnsPlaceholder(t *testing.T) {
	svc := newTestImageService(t, nil)

	got, err := svc.GetImageByID(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetImageByID error: %v", err)
	}
	if got == nil || !got.IsPlaceholder() {
		t.Fatalf("expected placeholder, got %+v", got)
	}
}

func TestGetImageByID_MissingFile(t *testing.T) {
	svc := newTestImageService(t, nil)
	saved := mustSave(t, svc, &database.Image{FileName: "a.png", ImageData: []byte("x")})
	if err := os.Remove(svc.PathFor(saved)); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	got, err := svc.GetImageByID(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("expected metadata without error, got %v", err)
	}
	if got.ID != saved.ID {
		t.Errorf("expected metadata for %s, got %s", saved.ID, got.ID)
	}
	if got.BlobState != database.BlobMissing || got.ImageData != nil {
		t.Errorf("expected missing blob, got state %v data %v", got.BlobState, got.ImageData)
	}
}

func TestGetAllImages_MetadataOnly(t *testing.T) {
	svc := newTestImageService(t, nil)
	ctx := context.Background()

	all, err := svc.GetAllImages(ctx)
	if err != nil {
		t.Fatalf("GetAllImages error: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", all)
	}

	mustSave(t, svc, &database.Image{FileName: "a.png", ImageData: []byte("a")})
	mustSave(t, svc, &database.Image{FileName: "b.jpg", ImageData: []byte("b")})

	all, err = svc.GetAllImages(ctx)
	if err != nil {
		t.Fatalf("GetAllImages error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 images, got %d", len(all))
	}
	for _, img := range all {
		if img.ImageData != nil || img.BlobState != database.BlobNotLoaded {
			t.Errorf("expected metadata only for %s", img.ID)
		}
	}
}

func TestUpdateImage_ReplacesBytes(t *testing.T) {
	svc := newTestImageService(t, nil)
	ctx := context.Background()
	saved := mustSave(t, svc, &database.Image{FileName: "a.png", Tags: "old", ImageData: []byte("v1")})

	updated, err := svc.UpdateImage(ctx, &database.Image{ID: saved.ID, Tags: "new", ImageData: []byte("v2")})
	if err != nil {
		t.Fatalf("UpdateImage error: %v", err)
	}
	if updated.ID != saved.ID || updated.FileName != "png" {
		t.Errorf("expected stable id and extension, got %s %s", updated.ID, updated.FileName)
	}
	if string(updated.ImageData) != "v2" || updated.BlobState != database.BlobLoaded {
		t.Errorf("expected new bytes attached, got %q (%v)", updated.ImageData, updated.BlobState)
	}
	if !updated.CreatedAt.Equal(saved.CreatedAt) {
		t.Errorf("created_at changed from %v to %v", saved.CreatedAt, updated.CreatedAt)
	}

	got, err := svc.GetImageByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetImageByID error: %v", err)
	}
	if got.Tags != "new" || string(got.ImageData) != "v2" {
		t.Errorf("expected persisted update, got tags %q data %q", got.Tags, got.ImageData)
	}
}

func TestUpdateImage_ExtensionChange(t *testing.T) {
	svc := newTestImageService(t, nil)
	ctx := context.Background()

	t.Run("with new bytes removes old file", func(t *testing.T) {
		saved := mustSave(t, svc, &database.Image{FileName: "a.png", ImageData: []byte("png")})
		oldPath := svc.PathFor(saved)

		updated, err := svc.UpdateImage(ctx, &database.Image{ID: saved.ID, FileName: "b.jpg", ImageData: []byte("jpg")})
		if err != nil {
			t.Fatalf("UpdateImage error: %v", err)
		}
		if updated.FileName != "jpg" {
			t.Errorf("expected jpg, got %q", updated.FileName)
		}
		if _, err := os.Stat(oldPath); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected old file removed, stat err = %v", err)
		}
		onDisk, err := os.ReadFile(svc.PathFor(updated))
		if err != nil || string(onDisk) != "jpg" {
			t.Errorf("expected new file with new bytes, got %q (%v)", onDisk, err)
		}
	})

	t.Run("without bytes renames file", func(t *testing.T) {
		saved := mustSave(t, svc, &database.Image{FileName: "a.png", ImageData: []byte("keep")})

		updated, err := svc.UpdateImage(ctx, &database.Image{ID: saved.ID, FileName: "c.gif"})
		if err != nil {
			t.Fatalf("UpdateImage error: %v", err)
		}
		if string(updated.ImageData) != "keep" {
			t.Errorf("expected existing bytes kept, got %q", updated.ImageData)
		}
		if _, err := os.Stat(filepath.Join(svc.ImageDirectory(), saved.ID+".png")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected png file renamed away, stat err = %v", err)
		}
	})
}

func TestUpdateImage_UnknownID(t *testing.T) {
	svc := newTestImageService(t, nil)

	_, err := svc.UpdateImage(context.Background(), &database.Image{ID: "missing", ImageData: []byte("x")})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if got := dirEntries(t, svc); len(got) != 0 {
		t.Errorf("expected no files, got %v", got)
	}
}

func TestSaveImage_ExistingIDUpdates(t *testing.T) {
	svc := newTestImageService(t, nil)
	saved := mustSave(t, svc, &database.Image{FileName: "a.png", ImageData: []byte("v1")})

	again := mustSave(t, svc, &database.Image{ID: saved.ID, FileName: "a.png", Tags: "second", ImageData: []byte("v2")})

	if again.ID != saved.ID || again.Tags != "second" {
		t.Errorf("expected update of %s, got %+v", saved.ID, again)
	}
	if again.ImageData != nil {
		t.Error("expected save result without bytes")
	}
	all, err := svc.GetAllImages(context.Background())
	if err != nil || len(all) != 1 {
		t.Fatalf("expected a single image, got %d (%v)", len(all), err)
	}
}

func TestDeleteImage(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps file by default", func(t *testing.T) {
		svc := newTestImageService(t, nil)
		saved := mustSave(t, svc, &database.Image{FileName: "a.png", ImageData: []byte("x")})

		if err := svc.DeleteImage(ctx, saved); err != nil {
			t.Fatalf("DeleteImage error: %v", err)
		}
		got, err := svc.GetImageByID(ctx, saved.ID)
		if err != nil || !got.IsPlaceholder() {
			t.Fatalf("expected placeholder after delete, got %+v (%v)", got, err)
		}
		if _, err := os.Stat(svc.PathFor(saved)); err != nil {
			t.Errorf("expected file kept, stat err = %v", err)
		}
	})

	t.Run("removes file when configured", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.BlobStore.RemoveOnDelete = true
		svc := newTestImageService(t, cfg)
		saved := mustSave(t, svc, &database.Image{FileName: "a.png", ImageData: []byte("x")})

		if err := svc.DeleteImage(ctx, saved); err != nil {
			t.Fatalf("DeleteImage error: %v", err)
		}
		if _, err := os.Stat(svc.PathFor(saved)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected file removed, stat err = %v", err)
		}
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		svc := newTestImageService(t, nil)
		if err := svc.DeleteImage(ctx, &database.Image{ID: "missing"}); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})
}

func TestQueriesByAssociation(t *testing.T) {
	svc := newTestImageService(t, nil)
	ctx := context.Background()
	patient := mustRegister(t, svc, database.PatientReference, "patient-1")
	provider := mustRegister(t, svc, database.ProviderReference, "provider-1")
	location := mustRegister(t, svc, database.LocationReference, "location-1")
	mustRegister(t, svc, database.PatientReference, "patient-without-images")

	first := mustSave(t, svc, &database.Image{
		ImageData: []byte("1"),
		Patient:   &database.Reference{UUID: patient.UUID},
		Provider:  &database.Reference{UUID: provider.UUID},
	})
	second := mustSave(t, svc, &database.Image{
		ImageData: []byte("2"),
		Patient:   &database.Reference{UUID: patient.UUID},
		Location:  &database.Reference{UUID: location.UUID},
	})

	byPatient, err := svc.GetImagesByPatientUUID(ctx, "patient-1")
	if err != nil || len(byPatient) != 2 {
		t.Fatalf("GetImagesByPatientUUID = %d images (%v), want 2", len(byPatient), err)
	}
	byProvider, err := svc.GetImagesByProviderUUID(ctx, "provider-1")
	if err != nil || len(byProvider) != 1 || byProvider[0].ID != first.ID {
		t.Fatalf("GetImagesByProviderUUID = %v (%v), want [%s]", byProvider, err, first.ID)
	}
	byLocation, err := svc.GetImagesByLocationUUID(ctx, "location-1")
	if err != nil || len(byLocation) != 1 || byLocation[0].ID != second.ID {
		t.Fatalf("GetImagesByLocationUUID = %v (%v), want [%s]", byLocation, err, second.ID)
	}

	none, err := svc.GetImagesByPatientUUID(ctx, "patient-without-images")
	if err != nil {
		t.Fatalf("GetImagesByPatientUUID error: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", none)
	}

	for name, query := range map[string]func(context.Context, string) ([]*database.Image, error){
		"patient":  svc.GetImagesByPatientUUID,
		"provider": svc.GetImagesByProviderUUID,
		"location": svc.GetImagesByLocationUUID,
	} {
		if _, err := query(ctx, "unknown-uuid"); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s query with unknown uuid: expected ErrInvalidArgument, got %v", name, err)
		}
	}
}

func TestQueriesByTag(t *testing.T) {
	svc := newTestImageService(t, nil)
	ctx := context.Background()
	patient := mustRegister(t, svc, database.PatientReference, "patient-1")
	other := mustRegister(t, svc, database.PatientReference, "patient-2")

	mustSave(t, svc, &database.Image{Tags: "wound front", ImageData: []byte("1"), Patient: &database.Reference{UUID: patient.UUID}})
	forPatient := mustSave(t, svc, &database.Image{Tags: "wound back", ImageData: []byte("2"), Patient: &database.Reference{UUID: patient.UUID}})
	latest := mustSave(t, svc, &database.Image{Tags: "wound", ImageData: []byte("3"), Patient: &database.Reference{UUID: other.UUID}})
	mustSave(t, svc, &database.Image{Tags: "xray", ImageData: []byte("4")})

	tagged, err := svc.GetImagesByTag(ctx, "wound")
	if err != nil || len(tagged) != 3 {
		t.Fatalf("GetImagesByTag = %d images (%v), want 3", len(tagged), err)
	}

	got, err := svc.GetLatestImageByTag(ctx, "wound")
	if err != nil {
		t.Fatalf("GetLatestImageByTag error: %v", err)
	}
	if got.ID != latest.ID || string(got.ImageData) != "3" {
		t.Errorf("expected latest %s with bytes, got %s %q", latest.ID, got.ID, got.ImageData)
	}

	got, err = svc.GetLatestImageByTagForPatient(ctx, "wound", "patient-1")
	if err != nil {
		t.Fatalf("GetLatestImageByTagForPatient error: %v", err)
	}
	if got.ID != forPatient.ID {
		t.Errorf("expected %s, got %s", forPatient.ID, got.ID)
	}

	if _, err := svc.GetLatestImageByTag(ctx, "absent"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("absent tag: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.GetLatestImageByTagForPatient(ctx, "xray", "patient-1"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("tag without patient images: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.GetLatestImageByTagForPatient(ctx, "wound", "unknown"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown patient: expected ErrInvalidArgument, got %v", err)
	}
}

func TestSaveImage_CommitFailureRemovesMetadata(t *testing.T) {
	svc := newTestImageService(t, nil)
	ctx := context.Background()
	const id = "fixed-id"

	// a non-empty directory at the target path makes the final rename fail
	blocker := filepath.Join(svc.ImageDirectory(), id+".png", "occupied")
	if err := os.MkdirAll(blocker, 0o755); err != nil {
		t.Fatalf("create blocker: %v", err)
	}

	if _, err := svc.SaveImage(ctx, &database.Image{ID: id, FileName: "a.png", ImageData: []byte("x")}); err == nil {
		t.Fatal("expected commit failure")
	}

	got, err := svc.GetImageByID(ctx, id)
	if err != nil || !got.IsPlaceholder() {
		t.Errorf("expected metadata removed, got %+v (%v)", got, err)
	}
	for _, name := range dirEntries(t, svc) {
		if strings.HasPrefix(name, ".staged-") {
			t.Errorf("staged file left behind: %s", name)
		}
	}
}

func TestSaveImage_MetadataFailureLeavesNoFile(t *testing.T) {
	svc := newServiceWithDatabase(t, func(db database.DatabaseService) database.DatabaseService {
		return failingCreateDatabase{db}
	})

	if _, err := svc.SaveImage(context.Background(), &database.Image{FileName: "a.png", ImageData: []byte("x")}); err == nil {
		t.Fatal("expected metadata failure")
	}
	if got := dirEntries(t, svc); len(got) != 0 {
		t.Errorf("expected no files, got %v", got)
	}
}

func TestUpdateImage_CommitFailureRestoresMetadata(t *testing.T) {
	svc := newTestImageService(t, nil)
	ctx := context.Background()
	saved := mustSave(t, svc, &database.Image{FileName: "a.png", Tags: "before", ImageData: []byte("v1")})

	blocker := filepath.Join(svc.ImageDirectory(), saved.ID+".jpg", "occupied")
	if err := os.MkdirAll(blocker, 0o755); err != nil {
		t.Fatalf("create blocker: %v", err)
	}

	_, err := svc.UpdateImage(ctx, &database.Image{ID: saved.ID, FileName: "b.jpg", Tags: "after", ImageData: []byte("v2")})
	if err == nil {
		t.Fatal("expected commit failure")
	}

	got, err := svc.GetImageByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetImageByID error: %v", err)
	}
	if got.FileName != "png" || got.Tags != "before" {
		t.Errorf("expected previous metadata restored, got %q %q", got.FileName, got.Tags)
	}
	if string(got.ImageData) != "v1" {
		t.Errorf("expected previous bytes, got %q", got.ImageData)
	}
}

func TestUpdateImage_ConcurrentUpdatesStayConsistent(t *testing.T) {
	svc := newTestImageService(t, nil)
	ctx := context.Background()
	saved := mustSave(t, svc, &database.Image{FileName: "a.png", ImageData: []byte("initial")})

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fileName := "x.png"
			if i%2 == 1 {
				fileName = "x.jpg"
			}
			_, err := svc.UpdateImage(ctx, &database.Image{
				ID:        saved.ID,
				FileName:  fileName,
				ImageData: []byte(fmt.Sprintf("payload-%d", i)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("UpdateImage error: %v", err)
		}
	}

	got, err := svc.GetImageByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetImageByID error: %v", err)
	}
	if got.BlobState != database.BlobLoaded || !strings.HasPrefix(string(got.ImageData), "payload-") {
		t.Errorf("expected bytes of one update, got %q (%v)", got.ImageData, got.BlobState)
	}

	files := dirEntries(t, svc)
	if len(files) != 1 || files[0] != saved.ID+"."+got.FileName {
		t.Errorf("expected exactly %s.%s, got %v", saved.ID, got.FileName, files)
	}
}

func TestNewImageService_SeedsReferencesAndCleansStagedFiles(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.References = []ReferenceConfig{
		{Kind: "patient", UUID: "seeded-patient", Display: "Jane Doe"},
	}
	stale := filepath.Join(cfg.ImageDirectoryPath(), ".staged-123")
	if err := os.MkdirAll(cfg.ImageDirectoryPath(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	svc := newTestImageService(t, cfg)

	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected staged file removed, stat err = %v", err)
	}
	ref, err := svc.ResolveReference(context.Background(), database.PatientReference, "seeded-patient")
	if err != nil {
		t.Fatalf("ResolveReference error: %v", err)
	}
	if ref.Display != "Jane Doe" {
		t.Errorf("Display = %q, want Jane Doe", ref.Display)
	}
}

func TestHealth(t *testing.T) {
	svc := newTestImageService(t, nil)
	if err := svc.Health(); err != nil {
		t.Errorf("Health error: %v", err)
	}
}
