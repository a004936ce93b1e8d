// Package models defines the core domain models for search-and-rescue action tracking.
package models

import "time"

// Action is a search-and-rescue case, the top-level unit of work.
// Its status is derived from its analyses and never stored.
type Action struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"                    validate:"required"`
	Description  string    `json:"description,omitempty"`
	IPPLatitude  *float64  `json:"ipp_latitude,omitempty"  validate:"omitempty,latitude"`
	IPPLongitude *float64  `json:"ipp_longitude,omitempty" validate:"omitempty,longitude"`
	RPLatitude   *float64  `json:"rp_latitude,omitempty"   validate:"omitempty,latitude"`
	RPLongitude  *float64  `json:"rp_longitude,omitempty"  validate:"omitempty,longitude"`
	LostTime     time.Time `json:"lost_time"               validate:"required"`
	CreatedAt    time.Time `json:"creation_time"`
	Archived     bool      `json:"archived"`
	Deleted      bool      `json:"-"`
}

// Analysis is one computation case within an action. Location and time fields
// fall back to the parent action when unset.
type Analysis struct {
	ID           int64      `json:"id"`
	ActionID     int64      `json:"action_id"               validate:"required"`
	Name         string     `json:"name"                    validate:"required"`
	Description  string     `json:"description,omitempty"`
	IPPLatitude  *float64   `json:"ipp_latitude,omitempty"  validate:"omitempty,latitude"`
	IPPLongitude *float64   `json:"ipp_longitude,omitempty" validate:"omitempty,longitude"`
	RPLatitude   *float64   `json:"rp_latitude,omitempty"   validate:"omitempty,latitude"`
	RPLongitude  *float64   `json:"rp_longitude,omitempty"  validate:"omitempty,longitude"`
	LostTime     *time.Time `json:"lost_time,omitempty"`
	CreatedAt    time.Time  `json:"creation_time"`
	Deleted      bool       `json:"-"`
}

// Point is a resolved coordinate pair.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Location holds the effective parameters of an analysis after falling back
// to its action.
type Location struct {
	IPP      *Point
	RP       *Point
	LostTime *time.Time
}

// Resolve returns the effective location of the analysis within its action.
func (a *Analysis) Resolve(action *Action) Location {
	parent := action
	if parent == nil {
		parent = &Action{}
	}

	loc := Location{
		IPP:      point(coalesce(a.IPPLatitude, parent.IPPLatitude), coalesce(a.IPPLongitude, parent.IPPLongitude)),
		RP:       point(coalesce(a.RPLatitude, parent.RPLatitude), coalesce(a.RPLongitude, parent.RPLongitude)),
		LostTime: a.LostTime,
	}

	if loc.LostTime == nil && !parent.LostTime.IsZero() {
		lost := parent.LostTime
		loc.LostTime = &lost
	}

	return loc
}

// Complete reports whether every location parameter is known.
func (l Location) Complete() bool {
	return l.IPP != nil && l.RP != nil && l.LostTime != nil
}

func coalesce(own, parent *float64) *float64 {
	if own != nil {
		return own
	}

	return parent
}

func point(lat, lon *float64) *Point {
	if lat == nil || lon == nil {
		return nil
	}

	return &Point{Latitude: *lat, Longitude: *lon}
}
