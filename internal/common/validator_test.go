package common

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type sampleRequest struct {
	Patient *string `json:"patient" validate:"omitempty,min=1"`
	Tags    string  `json:"tags" validate:"required"`
}

func TestGenericEchoValidator_Valid(t *testing.T) {
	v := NewGenericEchoValidator()
	patient := "p-1"

	if err := v.Validate(&sampleRequest{Patient: &patient, Tags: "xray"}); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if err := v.Validate(&sampleRequest{Tags: "xray"}); err != nil {
		t.Fatalf("expected absent optional field to pass, got %v", err)
	}
}

func TestGenericEchoValidator_Invalid(t *testing.T) {
	v := NewGenericEchoValidator()
	empty := ""

	err := v.Validate(&sampleRequest{Patient: &empty})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", httpErr.Code)
	}
	message, _ := httpErr.Message.(string)
	if !strings.Contains(message, "patient") || !strings.Contains(message, "tags") {
		t.Errorf("expected JSON field names in message, got %q", message)
	}
}

func TestGenericEchoValidator_ZeroValue(t *testing.T) {
	var v GenericEchoValidator
	if err := v.Validate(&sampleRequest{}); err == nil {
		t.Fatal("expected required field error from lazily created validator")
	}
}
