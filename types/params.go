package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

// SearchParams is the body of a semantic search request. Year/Month/Week are
// independently optional structural filters.
type SearchParams struct {
	Query string `json:"query" validate:"required"`
	Year  *int   `json:"year,omitempty" validate:"omitempty,min=1,max=3"`
	Month *int   `json:"month,omitempty" validate:"omitempty,min=1,max=12"`
	Week  *int   `json:"week,omitempty" validate:"omitempty,min=1"`
	Limit int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

// LookupParams addresses an exact temporal lookup.
type LookupParams struct {
	Year  int `query:"year" validate:"required,min=1,max=3"`
	Month int `query:"month" validate:"required,min=1,max=12"`
	Week  int `query:"week" validate:"required,min=1"`
}

// UploadParams carries the owner scope of an uploaded document. Exactly one
// of UserID / OrganizationID must be set.
type UploadParams struct {
	Name           string `form:"name"`
	UserID         string `form:"user_id" validate:"omitempty,uuid4"`
	OrganizationID string `form:"organization_id" validate:"omitempty,uuid4"`
}

func (params *SearchParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *LookupParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *UploadParams) Validate() map[string]string {
	errors := validateStruct(params)
	if (params.UserID == "") == (params.OrganizationID == "") {
		if errors == nil {
			errors = make(map[string]string)
		}
		errors["owner"] = "exactly one of user_id or organization_id is required"
	}
	return errors
}

func validateStruct(v any) map[string]string {
	validate := validator.New()
	if err := validate.Struct(v); err != nil {
		errs := err.(validator.ValidationErrors)
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}
