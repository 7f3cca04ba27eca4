package store

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MinNameLength is the minimum patient name length in runes.
const MinNameLength = 2

// ValidatePatient checks the fields every backend requires. All problems are
// reported together, each wrapping [ErrInvalid].
func ValidatePatient(p Patient) error {
	var errs []error
	if p.OwnerID == "" {
		errs = append(errs, fmt.Errorf("%w: owner id must not be empty", ErrInvalid))
	}
	if utf8.RuneCountInString(strings.TrimSpace(p.Name)) < MinNameLength {
		errs = append(errs, fmt.Errorf("%w: name must have at least %d characters", ErrInvalid, MinNameLength))
	}
	if p.DateOfBirth != "" {
		if _, err := time.Parse(time.DateOnly, p.DateOfBirth); err != nil {
			errs = append(errs, fmt.Errorf("%w: date of birth %q is not an ISO date", ErrInvalid, p.DateOfBirth))
		}
	}
	return errors.Join(errs...)
}

// ValidateSession checks the fields every backend requires before saving.
func ValidateSession(s NewSession) error {
	var errs []error
	if s.OwnerID == "" {
		errs = append(errs, fmt.Errorf("%w: owner id must not be empty", ErrInvalid))
	}
	if s.PatientID == "" {
		errs = append(errs, fmt.Errorf("%w: patient id must not be empty", ErrInvalid))
	}
	if strings.TrimSpace(s.Transcript) == "" {
		errs = append(errs, fmt.Errorf("%w: transcript must not be empty", ErrInvalid))
	}
	return errors.Join(errs...)
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// Limit returns n, or [DefaultLimit] when n is not positive.
func Limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// CosineDistance returns 1 - cos(a, b), matching pgvector's <=> operator.
// Vectors of different length or zero magnitude have distance 1.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
