package entrepreneurs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Keys a partial update may never touch.
var protectedKeys = map[string]struct{}{
	"id":                  {},
	"_id":                 {},
	"fechaRegistro":       {},
	"ultimaActualizacion": {},
}

// ApplyFields merges fields into rec with $set semantics: keys may be dotted
// paths ("proyecto.etapa"), and a value replaces whatever sits at its path,
// including whole sub-objects. Identity, registration time and the password
// hash are never changed by a merge.
func ApplyFields(rec Emprendedor, fields map[string]any) (Emprendedor, error) {
	if len(fields) == 0 {
		return rec, nil
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return Emprendedor{}, fmt.Errorf("encode record: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Emprendedor{}, fmt.Errorf("decode record: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := setPath(doc, key, fields[key]); err != nil {
			return Emprendedor{}, err
		}
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return Emprendedor{}, validationf("valor inválido: %v", err)
	}
	var out Emprendedor
	if err := json.Unmarshal(merged, &out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Emprendedor{}, validationf("tipo inválido para el campo %s", typeErr.Field)
		}
		return Emprendedor{}, validationf("valor inválido: %v", err)
	}

	out.ID = rec.ID
	out.CreatedAt = rec.CreatedAt
	out.PasswordHash = rec.PasswordHash
	out.Report.State = out.Report.State.Normalize()
	if !out.Report.State.Valid() {
		return Emprendedor{}, validationf("estado de informe inválido: %s", out.Report.State)
	}
	return out, nil
}

func setPath(doc map[string]any, path string, value any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return validationf("campo vacío en la actualización")
	}
	segments := strings.Split(path, ".")
	if _, ok := protectedKeys[segments[0]]; ok {
		return validationf("el campo %s no se puede modificar", segments[0])
	}

	cur := doc
	for i, seg := range segments {
		if seg == "" {
			return validationf("ruta inválida: %s", path)
		}
		if i == len(segments)-1 {
			cur[seg] = value
			return nil
		}
		next, exists := cur[seg]
		if !exists || next == nil {
			child := map[string]any{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return validationf("no se puede asignar %s: %s no es un objeto", path, strings.Join(segments[:i+1], "."))
		}
		cur = child
	}
	return nil
}

// TouchesReport reports whether any key targets the embedded report.
func TouchesReport(fields map[string]any) bool {
	for key := range fields {
		root, _, _ := strings.Cut(strings.TrimSpace(key), ".")
		if root == "informe" {
			return true
		}
	}
	return false
}
