package facility

import (
	"time"

	"github.com/salud-gob/procet/internal/shared/types"
)

// FacilityType defines the level of care a facility provides
type FacilityType string

const (
	FacilityTypePrimaryCare FacilityType = "PRIMARY_CARE"
	FacilityTypeHospital    FacilityType = "HOSPITAL"
	FacilityTypeReference   FacilityType = "REFERENCE_CENTER"
)

// Facility represents a health establishment enrolled in the program.
// The registry is administrative: the engine reads it but never mutates it.
type Facility struct {
	ID     types.ID     `json:"id"`
	Code   string       `json:"code"`
	Name   string       `json:"name"`
	Type   FacilityType `json:"type"`
	Region string       `json:"region"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateFacilityRequest is the request to register a facility
type CreateFacilityRequest struct {
	Code   string       `json:"code" validate:"required,min=2,max=32"`
	Name   string       `json:"name" validate:"required,min=2,max=255"`
	Type   FacilityType `json:"type" validate:"required"`
	Region string       `json:"region" validate:"required"`
}

// UpdateFacilityRequest is the request to update a facility
type UpdateFacilityRequest struct {
	Name   *string       `json:"name,omitempty"`
	Type   *FacilityType `json:"type,omitempty"`
	Region *string       `json:"region,omitempty"`
}

// ListFacilitiesFilter defines filters for listing facilities
type ListFacilitiesFilter struct {
	Type   *FacilityType `json:"type,omitempty"`
	Region *string       `json:"region,omitempty"`
	Search string        `json:"search,omitempty"`
	Limit  int           `json:"limit,omitempty"`
	Offset int           `json:"offset,omitempty"`
}
