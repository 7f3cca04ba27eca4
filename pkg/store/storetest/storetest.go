// Package storetest provides a behavioural test suite shared by every
// [store.Store] backend.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/medscribe/pkg/clinical"
	"github.com/MrWong99/medscribe/pkg/store"
)

// Dim is the embedding dimension used by the suite. Backends with a fixed
// vector column must be created with this dimension.
const Dim = 4

// Run exercises s against the store contract. newStore must return a fresh,
// empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("PatientCRUD", func(t *testing.T) { testPatientCRUD(t, newStore(t)) })
	t.Run("PatientOwnership", func(t *testing.T) { testPatientOwnership(t, newStore(t)) })
	t.Run("PatientValidation", func(t *testing.T) { testPatientValidation(t, newStore(t)) })
	t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, newStore(t)) })
	t.Run("SessionOwnership", func(t *testing.T) { testSessionOwnership(t, newStore(t)) })
	t.Run("Search", func(t *testing.T) { testSearch(t, newStore(t)) })
	t.Run("Similar", func(t *testing.T) { testSimilar(t, newStore(t)) })
	t.Run("DeletePatientCascades", func(t *testing.T) { testDeleteCascade(t, newStore(t)) })
}

func mustPatient(t *testing.T, s store.Store, owner, name string) store.Patient {
	t.Helper()
	p, err := s.CreatePatient(context.Background(), store.Patient{OwnerID: owner, Name: name})
	if err != nil {
		t.Fatalf("CreatePatient(%q): %v", name, err)
	}
	return p
}

func sampleRecord(complaint string) clinical.Record {
	return clinical.Record{
		ChiefComplaint: clinical.ChiefComplaint{
			Complaint: clinical.Text(complaint),
			Duration:  clinical.Text("3 days"),
		},
		Assessment: &clinical.Assessment{
			Summary:               clinical.Text("viral illness"),
			DifferentialDiagnoses: []string{"influenza"},
		},
	}
}

func mustSession(t *testing.T, s store.Store, owner, patientID, transcript string, emb []float32) string {
	t.Helper()
	id, err := s.SaveSession(context.Background(), store.NewSession{
		OwnerID:    owner,
		PatientID:  patientID,
		Transcript: transcript,
		Record:     sampleRecord("fever"),
		Embedding:  emb,
	})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if id == "" {
		t.Fatal("SaveSession returned an empty id")
	}
	return id
}

func testPatientCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()

	p := mustPatient(t, s, "owner-a", "  Jane Doe ")
	if p.ID == "" || p.Name != "Jane Doe" || p.CreatedAt.IsZero() {
		t.Fatalf("created patient = %+v", p)
	}

	got, err := s.GetPatient(ctx, "owner-a", p.ID)
	if err != nil {
		t.Fatalf("GetPatient: %v", err)
	}
	if got.Name != "Jane Doe" || got.OwnerID != "owner-a" {
		t.Errorf("GetPatient = %+v", got)
	}

	mustPatient(t, s, "owner-a", "Adam Smith")
	mustPatient(t, s, "owner-b", "Other Owner")
	list, err := s.ListPatients(ctx, "owner-a")
	if err != nil {
		t.Fatalf("ListPatients: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Adam Smith" || list[1].Name != "Jane Doe" {
		t.Errorf("ListPatients = %+v, want Adam Smith then Jane Doe", list)
	}

	p.Name = "Jane Roe"
	p.Gender = "female"
	p.DateOfBirth = "1980-04-01"
	updated, err := s.UpdatePatient(ctx, p)
	if err != nil {
		t.Fatalf("UpdatePatient: %v", err)
	}
	if updated.Name != "Jane Roe" || updated.Gender != "female" || updated.DateOfBirth != "1980-04-01" {
		t.Errorf("UpdatePatient = %+v", updated)
	}
	if updated.UpdatedAt.Before(updated.CreatedAt) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", updated.UpdatedAt, updated.CreatedAt)
	}

	if err := s.DeletePatient(ctx, "owner-a", p.ID); err != nil {
		t.Fatalf("DeletePatient: %v", err)
	}
	if _, err := s.GetPatient(ctx, "owner-a", p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetPatient after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.DeletePatient(ctx, "owner-a", p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeletePatient: err = %v, want ErrNotFound", err)
	}
}

func testPatientOwnership(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPatient(t, s, "owner-a", "Jane Doe")

	if _, err := s.GetPatient(ctx, "owner-b", p.ID); !errors.Is(err, store.ErrNotOwner) {
		t.Errorf("GetPatient by other owner: err = %v, want ErrNotOwner", err)
	}
	p.OwnerID = "owner-b"
	if _, err := s.UpdatePatient(ctx, p); !errors.Is(err, store.ErrNotOwner) {
		t.Errorf("UpdatePatient by other owner: err = %v, want ErrNotOwner", err)
	}
	if err := s.DeletePatient(ctx, "owner-b", p.ID); !errors.Is(err, store.ErrNotOwner) {
		t.Errorf("DeletePatient by other owner: err = %v, want ErrNotOwner", err)
	}
	if _, err := s.GetPatient(ctx, "owner-a", "does-not-exist"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetPatient missing: err = %v, want ErrNotFound", err)
	}
}

func testPatientValidation(t *testing.T, s store.Store) {
	_, err := s.CreatePatient(context.Background(), store.Patient{OwnerID: "o", Name: "J"})
	if !errors.Is(err, store.ErrInvalid) {
		t.Errorf("CreatePatient with short name: err = %v, want ErrInvalid", err)
	}
}

func testSessionLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPatient(t, s, "owner-a", "Jane Doe")

	id := mustSession(t, s, "owner-a", p.ID, "patient has fever and cough", nil)
	got, err := s.GetSession(ctx, "owner-a", id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.PatientID != p.ID || got.Transcript != "patient has fever and cough" {
		t.Errorf("GetSession = %+v", got)
	}
	if c := clinical.Deref(got.Record.ChiefComplaint.Complaint); c != "fever" {
		t.Errorf("stored complaint = %q, want fever", c)
	}
	if got.Record.Assessment == nil || len(got.Record.Assessment.DifferentialDiagnoses) != 1 {
		t.Errorf("stored assessment = %+v", got.Record.Assessment)
	}

	mustSession(t, s, "owner-a", p.ID, "follow-up visit", nil)
	list, err := s.ListSessions(ctx, "owner-a", p.ID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListSessions returned %d sessions, want 2", len(list))
	}

	if err := s.DeleteSession(ctx, "owner-a", id); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, "owner-a", id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSession after delete: err = %v, want ErrNotFound", err)
	}
}

func testSessionOwnership(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPatient(t, s, "owner-a", "Jane Doe")

	_, err := s.SaveSession(ctx, store.NewSession{OwnerID: "owner-b", PatientID: p.ID, Transcript: "x", Record: sampleRecord("x")})
	if !errors.Is(err, store.ErrNotOwner) {
		t.Errorf("SaveSession for foreign patient: err = %v, want ErrNotOwner", err)
	}
	_, err = s.SaveSession(ctx, store.NewSession{OwnerID: "owner-a", PatientID: "missing", Transcript: "x", Record: sampleRecord("x")})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SaveSession for missing patient: err = %v, want ErrNotFound", err)
	}

	id := mustSession(t, s, "owner-a", p.ID, "transcript", nil)
	if _, err := s.GetSession(ctx, "owner-b", id); !errors.Is(err, store.ErrNotOwner) {
		t.Errorf("GetSession by other owner: err = %v, want ErrNotOwner", err)
	}
	if err := s.DeleteSession(ctx, "owner-b", id); !errors.Is(err, store.ErrNotOwner) {
		t.Errorf("DeleteSession by other owner: err = %v, want ErrNotOwner", err)
	}
	if _, err := s.ListSessions(ctx, "owner-b", p.ID); !errors.Is(err, store.ErrNotOwner) {
		t.Errorf("ListSessions by other owner: err = %v, want ErrNotOwner", err)
	}
}

func testSearch(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustPatient(t, s, "owner-a", "Jane Doe")
	b := mustPatient(t, s, "owner-b", "John Doe")

	want := mustSession(t, s, "owner-a", a.ID, "patient reports chest pain radiating to the arm", nil)
	mustSession(t, s, "owner-a", a.ID, "routine diabetes review", nil)
	mustSession(t, s, "owner-b", b.ID, "chest pain after exercise", nil)

	got, err := s.SearchSessions(ctx, "owner-a", "chest", 10)
	if err != nil {
		t.Fatalf("SearchSessions: %v", err)
	}
	if len(got) != 1 || got[0].ID != want {
		t.Errorf("SearchSessions = %+v, want only %s", got, want)
	}

	none, err := s.SearchSessions(ctx, "owner-a", "asthma", 10)
	if err != nil {
		t.Fatalf("SearchSessions: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("SearchSessions(asthma) returned %d sessions", len(none))
	}
}

func testSimilar(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPatient(t, s, "owner-a", "Jane Doe")
	other := mustPatient(t, s, "owner-b", "John Doe")

	near := mustSession(t, s, "owner-a", p.ID, "near", []float32{1, 0, 0, 0})
	far := mustSession(t, s, "owner-a", p.ID, "far", []float32{0, 1, 0, 0})
	mustSession(t, s, "owner-a", p.ID, "no embedding", nil)
	mustSession(t, s, "owner-b", other.ID, "foreign", []float32{1, 0, 0, 0})

	got, err := s.SimilarSessions(ctx, "owner-a", []float32{0.9, 0.1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("SimilarSessions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SimilarSessions returned %d matches, want 2: %+v", len(got), got)
	}
	if got[0].ID != near || got[1].ID != far {
		t.Errorf("order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, near, far)
	}
	if got[0].Distance > got[1].Distance {
		t.Errorf("distances not ascending: %v, %v", got[0].Distance, got[1].Distance)
	}

	one, err := s.SimilarSessions(ctx, "owner-a", []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("SimilarSessions: %v", err)
	}
	if len(one) != 1 || one[0].ID != near {
		t.Errorf("SimilarSessions limit 1 = %+v", one)
	}
}

func testDeleteCascade(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := mustPatient(t, s, "owner-a", "Jane Doe")
	id := mustSession(t, s, "owner-a", p.ID, "transcript", nil)

	if err := s.DeletePatient(ctx, "owner-a", p.ID); err != nil {
		t.Fatalf("DeletePatient: %v", err)
	}
	if _, err := s.GetSession(ctx, "owner-a", id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("session survived patient delete: err = %v", err)
	}
}
