// Package web provides HTTP request and response types for the action tracking API.
package web

import (
	"time"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/services"
)

// ModelSelection asks for one model type in an analysis. A missing weight keeps
// the current weight, or the default weight for a new model.
type ModelSelection struct {
	ModelTypeID int64 `json:"model_type_id" validate:"required"`
	Weight      *int  `json:"weight"        validate:"omitempty,min=1"`
}

// ProfileSelection asks for one person type in an analysis population mix.
type ProfileSelection struct {
	PersonTypeID int64 `json:"person_type_id" validate:"required"`
	Weight       int   `json:"weight"         validate:"min=1"`
}

// CreateActionRequest represents the request body for creating a new action.
type CreateActionRequest struct {
	Name         string    `json:"name"          validate:"required"`
	Description  string    `json:"description"`
	IPPLatitude  *float64  `json:"ipp_latitude"  validate:"omitempty,latitude"`
	IPPLongitude *float64  `json:"ipp_longitude" validate:"omitempty,longitude"`
	RPLatitude   *float64  `json:"rp_latitude"   validate:"omitempty,latitude"`
	RPLongitude  *float64  `json:"rp_longitude"  validate:"omitempty,longitude"`
	LostTime     time.Time `json:"lost_time"     validate:"required"`
}

// UpdateActionRequest represents the request body for updating an existing action.
// All fields are optional to support partial updates.
type UpdateActionRequest struct {
	Name         *string    `json:"name,omitempty"          validate:"omitempty,min=1"`
	Description  *string    `json:"description,omitempty"`
	IPPLatitude  *float64   `json:"ipp_latitude,omitempty"  validate:"omitempty,latitude"`
	IPPLongitude *float64   `json:"ipp_longitude,omitempty" validate:"omitempty,longitude"`
	RPLatitude   *float64   `json:"rp_latitude,omitempty"   validate:"omitempty,latitude"`
	RPLongitude  *float64   `json:"rp_longitude,omitempty"  validate:"omitempty,longitude"`
	LostTime     *time.Time `json:"lost_time,omitempty"`
	Archived     *bool      `json:"archived,omitempty"`
}

// CreateAnalysisRequest represents the request body for creating an analysis.
// With AnalysisID set the analysis is duplicated instead, and the remaining
// fields override the copied ones.
type CreateAnalysisRequest struct {
	AnalysisID   *int64             `json:"analysis_id,omitempty"`
	ActionID     *int64             `json:"action_id,omitempty"     validate:"required_without=AnalysisID"`
	Name         *string            `json:"name,omitempty"          validate:"required_without=AnalysisID"`
	Description  *string            `json:"description,omitempty"`
	IPPLatitude  *float64           `json:"ipp_latitude,omitempty"  validate:"omitempty,latitude"`
	IPPLongitude *float64           `json:"ipp_longitude,omitempty" validate:"omitempty,longitude"`
	RPLatitude   *float64           `json:"rp_latitude,omitempty"   validate:"omitempty,latitude"`
	RPLongitude  *float64           `json:"rp_longitude,omitempty"  validate:"omitempty,longitude"`
	LostTime     *time.Time         `json:"lost_time,omitempty"`
	Models       []ModelSelection   `json:"models,omitempty"        validate:"dive"`
	Profiles     []ProfileSelection `json:"profiles,omitempty"      validate:"dive"`
}

// UpdateAnalysisRequest represents the request body for updating an analysis.
// Models and profiles, when present, replace the whole current set.
type UpdateAnalysisRequest struct {
	Name         *string            `json:"name,omitempty"          validate:"omitempty,min=1"`
	Description  *string            `json:"description,omitempty"`
	IPPLatitude  *float64           `json:"ipp_latitude,omitempty"  validate:"omitempty,latitude"`
	IPPLongitude *float64           `json:"ipp_longitude,omitempty" validate:"omitempty,longitude"`
	RPLatitude   *float64           `json:"rp_latitude,omitempty"   validate:"omitempty,latitude"`
	RPLongitude  *float64           `json:"rp_longitude,omitempty"  validate:"omitempty,longitude"`
	LostTime     *time.Time         `json:"lost_time,omitempty"`
	Models       []ModelSelection   `json:"models"                  validate:"dive"`
	Profiles     []ProfileSelection `json:"profiles"                validate:"dive"`
}

func desiredModels(selections []ModelSelection) map[int64]*int {
	if selections == nil {
		return nil
	}

	desired := make(map[int64]*int, len(selections))
	for _, s := range selections {
		desired[s.ModelTypeID] = s.Weight
	}

	return desired
}

func desiredProfiles(selections []ProfileSelection) map[int64]int {
	if selections == nil {
		return nil
	}

	desired := make(map[int64]int, len(selections))
	for _, s := range selections {
		desired[s.PersonTypeID] = s.Weight
	}

	return desired
}

func (r CreateAnalysisRequest) analysis() *models.Analysis {
	analysis := &models.Analysis{
		IPPLatitude:  r.IPPLatitude,
		IPPLongitude: r.IPPLongitude,
		RPLatitude:   r.RPLatitude,
		RPLongitude:  r.RPLongitude,
		LostTime:     r.LostTime,
	}

	if r.ActionID != nil {
		analysis.ActionID = *r.ActionID
	}

	if r.Name != nil {
		analysis.Name = *r.Name
	}

	if r.Description != nil {
		analysis.Description = *r.Description
	}

	return analysis
}

func (r CreateAnalysisRequest) overrides() services.DuplicateOverrides {
	return services.DuplicateOverrides{
		ActionID:     r.ActionID,
		Name:         r.Name,
		Description:  r.Description,
		IPPLatitude:  r.IPPLatitude,
		IPPLongitude: r.IPPLongitude,
		RPLatitude:   r.RPLatitude,
		RPLongitude:  r.RPLongitude,
		LostTime:     r.LostTime,
	}
}
