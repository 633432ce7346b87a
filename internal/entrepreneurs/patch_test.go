package entrepreneurs

import (
	"testing"
	"time"
)

func sampleRecord() Emprendedor {
	created := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	return Emprendedor{
		ID:           "11111111-1111-1111-1111-111111111111",
		FirstName:    "Ana",
		Email:        "ana@example.com",
		Username:     "ana",
		Country:      "Colombia",
		PasswordHash: "hash",
		Project: Project{
			Name:        "Agro",
			Description: "Marketplace agrícola",
			Sector:      "AgTech",
			Stage:       "idea",
			Competitors: []string{"A", "B"},
		},
		Report:    Report{State: StatePending},
		Status:    AccountActive,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestApplyFieldsDottedPath(t *testing.T) {
	rec := sampleRecord()
	out, err := ApplyFields(rec, map[string]any{
		"proyecto.etapa": "mvp",
		"informe.estado": "procesando",
		"ciudad":         "Medellín",
	})
	if err != nil {
		t.Fatalf("ApplyFields: %v", err)
	}
	if out.Project.Stage != "mvp" {
		t.Fatalf("expected stage mvp, got %q", out.Project.Stage)
	}
	if out.Project.Name != "Agro" || out.Project.Sector != "AgTech" {
		t.Fatalf("sibling project fields lost: %+v", out.Project)
	}
	if out.Report.State != StateProcessing {
		t.Fatalf("expected processing, got %q", out.Report.State)
	}
	if out.City != "Medellín" {
		t.Fatalf("expected city, got %q", out.City)
	}
	if out.PasswordHash != "hash" || out.ID != rec.ID || !out.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("identity fields changed: %+v", out)
	}
	if rec.Project.Stage != "idea" {
		t.Fatalf("input record mutated")
	}
}

func TestApplyFieldsObjectReplacesWholeSubdocument(t *testing.T) {
	rec := sampleRecord()
	out, err := ApplyFields(rec, map[string]any{
		"proyecto": map[string]any{"nombre": "Nuevo"},
	})
	if err != nil {
		t.Fatalf("ApplyFields: %v", err)
	}
	if out.Project.Name != "Nuevo" {
		t.Fatalf("unexpected name %q", out.Project.Name)
	}
	if out.Project.Sector != "" || len(out.Project.Competitors) != 0 {
		t.Fatalf("expected sub-object replaced, got %+v", out.Project)
	}
}

func TestApplyFieldsNullClearsValue(t *testing.T) {
	rec := sampleRecord()
	rec.Report = Report{State: StateError, ErrorMessage: "timeout"}
	out, err := ApplyFields(rec, map[string]any{
		"informe.estado": "procesando",
		"informe.error":  nil,
	})
	if err != nil {
		t.Fatalf("ApplyFields: %v", err)
	}
	if out.Report.ErrorMessage != "" {
		t.Fatalf("expected error cleared, got %q", out.Report.ErrorMessage)
	}
}

func TestApplyFieldsRejectsProtectedKeys(t *testing.T) {
	for _, key := range []string{"id", "_id", "fechaRegistro", "ultimaActualizacion"} {
		_, err := ApplyFields(sampleRecord(), map[string]any{key: "x"})
		if !IsValidation(err) {
			t.Fatalf("%s: expected ValidationError, got %v", key, err)
		}
	}
}

func TestApplyFieldsRejectsTypeMismatch(t *testing.T) {
	_, err := ApplyFields(sampleRecord(), map[string]any{"proyecto.competencia": "not-a-list"})
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	_, err = ApplyFields(sampleRecord(), map[string]any{"correo.interno": "x"})
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError for path through scalar, got %v", err)
	}
}

func TestApplyFieldsRejectsUnknownReportState(t *testing.T) {
	_, err := ApplyFields(sampleRecord(), map[string]any{"informe.estado": "listo"})
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestApplyFieldsCreatesMissingParents(t *testing.T) {
	out, err := ApplyFields(sampleRecord(), map[string]any{"traccion.usuarios": 120})
	if err != nil {
		t.Fatalf("ApplyFields: %v", err)
	}
	if out.Traction == nil || out.Traction.Users != 120 {
		t.Fatalf("expected traction users 120, got %+v", out.Traction)
	}
}

func TestTouchesReport(t *testing.T) {
	if !TouchesReport(map[string]any{"informe.estado": "error"}) {
		t.Fatalf("expected dotted informe path detected")
	}
	if !TouchesReport(map[string]any{"informe": map[string]any{}}) {
		t.Fatalf("expected informe object detected")
	}
	if TouchesReport(map[string]any{"proyecto.informeAnual": "x"}) {
		t.Fatalf("unexpected match")
	}
}
