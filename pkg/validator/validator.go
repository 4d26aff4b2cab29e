package validator

import (
	"math"

	"github.com/google/uuid"

	apperrors "github.com/askwhyharsh/familycircle/pkg/errors"
)

type Validator interface {
	ValidateUserID(id string) error
	ValidateCoordinates(lat, lon float64) error
	ValidateRadiusKm(radius float64) error
}

type validator struct {
	minRadiusKm float64
	maxRadiusKm float64
}

func NewValidator() Validator {
	return &validator{
		minRadiusKm: 0.1,
		maxRadiusKm: 100,
	}
}

func (v *validator) ValidateUserID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.ErrInvalidUserID
	}
	return nil
}

func (v *validator) ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return apperrors.ErrInvalidCoordinates
	}

	if lat < -90 || lat > 90 {
		return apperrors.ErrInvalidLatitude
	}

	if lon < -180 || lon > 180 {
		return apperrors.ErrInvalidLongitude
	}

	return nil
}

func (v *validator) ValidateRadiusKm(radius float64) error {
	if math.IsNaN(radius) || radius < v.minRadiusKm || radius > v.maxRadiusKm {
		return apperrors.ErrInvalidRadius
	}

	return nil
}
