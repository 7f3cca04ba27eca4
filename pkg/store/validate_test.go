package store

import (
	"errors"
	"math"
	"testing"
)

// TestValidatePatient checks the required patient fields.
func TestValidatePatient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       Patient
		wantErr bool
	}{
		{"valid", Patient{OwnerID: "o", Name: "Jo"}, false},
		{"valid with dob", Patient{OwnerID: "o", Name: "Jane Doe", DateOfBirth: "1980-04-01"}, false},
		{"short name", Patient{OwnerID: "o", Name: " J "}, true},
		{"missing owner", Patient{Name: "Jane"}, true},
		{"bad dob", Patient{OwnerID: "o", Name: "Jane", DateOfBirth: "01/04/1980"}, true},
		{"two-rune unicode name", Patient{OwnerID: "o", Name: "Łu"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePatient(tt.p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePatient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

// TestValidateSession checks the required session fields.
func TestValidateSession(t *testing.T) {
	t.Parallel()

	if err := ValidateSession(NewSession{OwnerID: "o", PatientID: "p", Transcript: "t"}); err != nil {
		t.Errorf("valid session: %v", err)
	}
	err := ValidateSession(NewSession{Transcript: "  "})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid", err)
	}
}

// TestCosineDistance checks identical, orthogonal and degenerate vectors.
func TestCosineDistance(t *testing.T) {
	t.Parallel()

	if d := CosineDistance([]float32{1, 0}, []float32{2, 0}); math.Abs(d) > 1e-9 {
		t.Errorf("parallel distance = %v, want 0", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{0, 1}); math.Abs(d-1) > 1e-9 {
		t.Errorf("orthogonal distance = %v, want 1", d)
	}
	if d := CosineDistance([]float32{1}, []float32{1, 2}); d != 1 {
		t.Errorf("mismatched length distance = %v, want 1", d)
	}
	if d := CosineDistance([]float32{0, 0}, []float32{1, 1}); d != 1 {
		t.Errorf("zero vector distance = %v, want 1", d)
	}
}

// TestLimit checks the default limit.
func TestLimit(t *testing.T) {
	t.Parallel()
	if Limit(0) != DefaultLimit || Limit(-3) != DefaultLimit || Limit(5) != 5 {
		t.Error("Limit does not apply the default correctly")
	}
}
