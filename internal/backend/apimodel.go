package backend

import (
	"strings"

	"github.com/jo-hoe/patientimages/internal/backend/database"
	"github.com/jo-hoe/patientimages/internal/backend/datauri"
)

// imageRequest is the JSON body of create and update calls. Absent fields
// leave the image unchanged.
type imageRequest struct {
	DataURI  *string `json:"dataURI" validate:"omitempty,min=1"`
	FileName *string `json:"fileName" validate:"omitempty,min=1"`
	Tags     *string `json:"tags"`
	Patient  *string `json:"patient" validate:"omitempty,min=1"`
	Provider *string `json:"provider" validate:"omitempty,min=1"`
	Location *string `json:"location" validate:"omitempty,min=1"`
}

// applyTo copies the request fields onto image. The data-URI type becomes the
// file name unless an explicit file name is given.
func (r *imageRequest) applyTo(image *database.Image) error {
	if r.Provider != nil {
		image.Provider = &database.Reference{UUID: *r.Provider}
	}
	if r.Location != nil {
		image.Location = &database.Reference{UUID: *r.Location}
	}
	if r.Patient != nil {
		image.Patient = &database.Reference{UUID: *r.Patient}
	}
	if r.DataURI != nil {
		imageType, data, err := datauri.Decode(*r.DataURI)
		if err != nil {
			return err
		}
		image.FileName = imageType
		image.ImageData = data
	}
	if r.FileName != nil {
		if !strings.Contains(*r.FileName, ".") {
			return errFileNameSuffix
		}
		image.FileName = *r.FileName
	}
	if r.Tags != nil {
		image.Tags = *r.Tags
	}
	return nil
}

type createdResponse struct {
	UUID     string `json:"uuid"`
	FileName string `json:"fileName"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// referenceResponse renders as {} when the association is absent.
type referenceResponse struct {
	UUID    string `json:"uuid,omitempty"`
	Display string `json:"display,omitempty"`
}

type imageResponse struct {
	UUID     string            `json:"uuid"`
	FileName string            `json:"fileName"`
	Tags     string            `json:"tags"`
	DataURI  string            `json:"dataURI,omitempty"`
	Provider referenceResponse `json:"provider"`
	Location referenceResponse `json:"location"`
	Patient  referenceResponse `json:"patient"`
}

type listResponse struct {
	Results []imageResponse `json:"results"`
}

func newImageResponse(image *database.Image) imageResponse {
	response := imageResponse{
		UUID:     image.ID,
		FileName: image.FileName,
		Tags:     image.Tags,
		Provider: newReferenceResponse(image.Provider),
		Location: newReferenceResponse(image.Location),
		Patient:  newReferenceResponse(image.Patient),
	}
	if image.BlobState == database.BlobLoaded {
		response.DataURI = datauri.Encode(image.FileName, image.ImageData)
	}
	return response
}

func newReferenceResponse(ref *database.Reference) referenceResponse {
	if ref == nil {
		return referenceResponse{}
	}
	return referenceResponse{UUID: ref.UUID, Display: ref.Display}
}

func newListResponse(images []*database.Image) listResponse {
	results := make([]imageResponse, 0, len(images))
	for _, image := range images {
		results = append(results, newImageResponse(image))
	}
	return listResponse{Results: results}
}
