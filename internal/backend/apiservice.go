package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jo-hoe/patientimages/internal/backend/database"
	"github.com/jo-hoe/patientimages/internal/backend/datauri"
	"github.com/jo-hoe/patientimages/internal/backend/imageformat"
	"github.com/jo-hoe/patientimages/internal/core"
)

const imageRoute = "/rest/v1/image"

var (
	errFileNameSuffix = fmt.Errorf("%w: file name needs suffix (.jpg, .png, etc)", core.ErrInvalidArgument)
	errImageNotFound  = errors.New("image not found")
)

type APIService struct {
	config       *core.ServiceConfig
	imageService *core.ImageService
	log          zerolog.Logger
}

func NewAPIService(config *core.ServiceConfig, imageService *core.ImageService, log zerolog.Logger) *APIService {
	return &APIService{
		config:       config,
		imageService: imageService,
		log:          log.With().Str("component", "api").Logger(),
	}
}

func (service *APIService) SetRoutes(e *echo.Echo) {
	e.GET("/probe", service.probeHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	group := e.Group(imageRoute)
	group.POST("", service.createImageHandler)
	group.POST("/upload", service.uploadImageHandler)
	group.GET("", service.listImagesHandler)
	group.GET("/:uuid", service.getImageHandler)
	group.GET("/:uuid/raw", service.getRawImageHandler)
	group.POST("/:uuid", service.updateImageHandler)
	group.DELETE("/:uuid", service.deleteImageHandler)
}

func (service *APIService) probeHandler(ctx echo.Context) error {
	if err := service.imageService.Health(); err != nil {
		service.log.Warn().Err(err).Int("status", http.StatusServiceUnavailable).Msg("probeHandler: unhealthy")
		return ctx.String(http.StatusServiceUnavailable, "unhealthy")
	}
	return ctx.String(http.StatusOK, "API Service is running")
}

func (service *APIService) createImageHandler(ctx echo.Context) error {
	var request imageRequest
	if err := ctx.Bind(&request); err != nil {
		return err
	}
	if err := ctx.Validate(&request); err != nil {
		return err
	}

	image := &database.Image{}
	if err := request.applyTo(image); err != nil {
		return service.errorResponse(ctx, "createImageHandler", err)
	}

	created, err := service.imageService.SaveImage(ctx.Request().Context(), image)
	if err != nil {
		return service.errorResponse(ctx, "createImageHandler", err)
	}
	return ctx.JSON(http.StatusCreated, createdResponse{UUID: created.ID, FileName: created.FileName})
}

func (service *APIService) uploadImageHandler(ctx echo.Context) error {
	file, err := ctx.FormFile("image")
	if err != nil {
		service.log.Warn().Err(err).Int("status", http.StatusBadRequest).Msg("uploadImageHandler: failed to get uploaded file")
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "failed to get uploaded file"})
	}

	if file.Size > service.config.MaxUploadBytes {
		service.log.Warn().Int64("size", file.Size).Int("status", http.StatusRequestEntityTooLarge).Msg("uploadImageHandler: uploaded file too large")
		return ctx.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "uploaded file too large"})
	}

	src, err := file.Open()
	if err != nil {
		return service.errorResponse(ctx, "uploadImageHandler", fmt.Errorf("failed to open uploaded file: %w", err))
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			service.log.Error().Err(cerr).Str("filename", file.Filename).Msg("uploadImageHandler: failed to close uploaded file reader")
		}
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		return service.errorResponse(ctx, "uploadImageHandler", fmt.Errorf("failed to read uploaded file: %w", err))
	}

	fileName := file.Filename
	if !strings.Contains(fileName, ".") {
		detected, err := imageformat.Detect(data)
		if err != nil {
			return service.errorResponse(ctx, "uploadImageHandler", err)
		}
		fileName = detected
	}

	image := &database.Image{
		FileName:  fileName,
		Tags:      ctx.FormValue("tags"),
		ImageData: data,
		Patient:   formReference(ctx, "patient"),
		Provider:  formReference(ctx, "provider"),
		Location:  formReference(ctx, "location"),
	}

	created, err := service.imageService.SaveImage(ctx.Request().Context(), image)
	if err != nil {
		return service.errorResponse(ctx, "uploadImageHandler", err)
	}
	return ctx.JSON(http.StatusCreated, createdResponse{UUID: created.ID, FileName: created.FileName})
}

// listImagesHandler serves all images, or filters by one query parameter.
// patient and tag together select the latest image of that patient.
func (service *APIService) listImagesHandler(ctx echo.Context) error {
	requestCtx := ctx.Request().Context()
	patient, tag := ctx.QueryParam("patient"), ctx.QueryParam("tag")

	if patient != "" && tag != "" {
		image, err := service.imageService.GetLatestImageByTagForPatient(requestCtx, tag, patient)
		if err != nil {
			return service.errorResponse(ctx, "listImagesHandler", err)
		}
		return ctx.JSON(http.StatusOK, newImageResponse(image))
	}

	var images []*database.Image
	var err error
	switch {
	case ctx.QueryParam("provider") != "":
		images, err = service.imageService.GetImagesByProviderUUID(requestCtx, ctx.QueryParam("provider"))
	case ctx.QueryParam("location") != "":
		images, err = service.imageService.GetImagesByLocationUUID(requestCtx, ctx.QueryParam("location"))
	case patient != "":
		images, err = service.imageService.GetImagesByPatientUUID(requestCtx, patient)
	case tag != "":
		images, err = service.imageService.GetImagesByTag(requestCtx, tag)
	default:
		images, err = service.imageService.GetAllImages(requestCtx)
	}
	if err != nil {
		return service.errorResponse(ctx, "listImagesHandler", err)
	}
	return ctx.JSON(http.StatusOK, newListResponse(images))
}

func (service *APIService) getImageHandler(ctx echo.Context) error {
	image, err := service.findImage(ctx)
	if err != nil {
		return service.errorResponse(ctx, "getImageHandler", err)
	}
	return ctx.JSON(http.StatusOK, newImageResponse(image))
}

func (service *APIService) getRawImageHandler(ctx echo.Context) error {
	image, err := service.findImage(ctx)
	if err != nil {
		return service.errorResponse(ctx, "getRawImageHandler", err)
	}
	if image.BlobState != database.BlobLoaded {
		service.log.Warn().Str("image_id", image.ID).Stringer("blob_state", image.BlobState).
			Int("status", http.StatusNotFound).Msg("getRawImageHandler: image bytes not available")
		return ctx.JSON(http.StatusNotFound, errorResponse{Error: "image bytes not available"})
	}

	// Prevent caching so updates are visible immediately
	ctx.Response().Header().Set("Cache-Control", "no-store")
	return ctx.Blob(http.StatusOK, imageformat.ContentType(image.FileName), image.ImageData)
}

func (service *APIService) updateImageHandler(ctx echo.Context) error {
	var request imageRequest
	if err := ctx.Bind(&request); err != nil {
		return err
	}
	if err := ctx.Validate(&request); err != nil {
		return err
	}

	existing, err := service.findImage(ctx)
	if err != nil {
		return service.errorResponse(ctx, "updateImageHandler", err)
	}

	image := existing.Clone()
	image.ImageData = nil
	if err := request.applyTo(image); err != nil {
		return service.errorResponse(ctx, "updateImageHandler", err)
	}

	if _, err := service.imageService.UpdateImage(ctx.Request().Context(), image); err != nil {
		return service.errorResponse(ctx, "updateImageHandler", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (service *APIService) deleteImageHandler(ctx echo.Context) error {
	id := ctx.Param("uuid")
	if err := service.imageService.DeleteImage(ctx.Request().Context(), &database.Image{ID: id}); err != nil {
		return service.errorResponse(ctx, "deleteImageHandler", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// findImage loads the image named by the uuid path parameter.
func (service *APIService) findImage(ctx echo.Context) (*database.Image, error) {
	id := ctx.Param("uuid")
	image, err := service.imageService.GetImageByID(ctx.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if image.IsPlaceholder() {
		return nil, fmt.Errorf("%w: %s", errImageNotFound, id)
	}
	return image, nil
}

// errorResponse maps caller mistakes to 400, unknown images to 404 and
// everything else to 500.
func (service *APIService) errorResponse(ctx echo.Context, handler string, err error) error {
	switch {
	case errors.Is(err, errImageNotFound):
		service.log.Debug().Err(err).Int("status", http.StatusNotFound).Msg(handler + ": image not found")
		return ctx.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case isBadRequest(err):
		service.log.Warn().Err(err).Int("status", http.StatusBadRequest).Msg(handler + ": rejected request")
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	service.log.Error().Err(err).Int("status", http.StatusInternalServerError).Msg(handler + ": request failed")
	return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func isBadRequest(err error) bool {
	return errors.Is(err, core.ErrInvalidArgument) ||
		errors.Is(err, datauri.ErrMalformed) ||
		errors.Is(err, datauri.ErrUnsupportedType) ||
		errors.Is(err, imageformat.ErrUnsupported)
}

func formReference(ctx echo.Context, field string) *database.Reference {
	if uuid := ctx.FormValue(field); uuid != "" {
		return &database.Reference{UUID: uuid}
	}
	return nil
}
