package entrepreneurs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Service contains business logic for entrepreneur records.
type Service struct {
	Repo       Repo
	Now        func() time.Time
	BcryptCost int
}

// NewService constructs a Service over repo.
func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create validates and persists a new record with a pending report. It does
// not start the analysis.
func (s *Service) Create(ctx context.Context, in CreateInput) (Emprendedor, error) {
	rec := in.Emprendedor
	rec.Email = normalizeEmail(rec.Email)
	if rec.Email == "" {
		rec.Email = normalizeEmail(in.EmailAlias)
	}
	rec.Username = strings.TrimSpace(rec.Username)
	rec.Project.Name = strings.TrimSpace(rec.Project.Name)
	if rec.Email == "" || rec.Username == "" || rec.Project.Name == "" {
		return Emprendedor{}, &ValidationError{Message: msgMissingFields}
	}

	if err := s.ensureUnique(ctx, FieldEmail, rec.Email); err != nil {
		return Emprendedor{}, err
	}
	if err := s.ensureUnique(ctx, FieldUsername, rec.Username); err != nil {
		return Emprendedor{}, err
	}

	report := Report{State: StatePending}
	if in.ReportOverride != nil {
		report = cloneReport(*in.ReportOverride)
		report.State = report.State.Normalize()
	}
	if !report.State.Valid() {
		return Emprendedor{}, validationf("estado de informe inválido: %s", report.State)
	}
	rec.Report = report

	if in.Password != "" {
		hash, err := s.hashPassword(in.Password)
		if err != nil {
			return Emprendedor{}, err
		}
		rec.PasswordHash = hash
	}

	now := s.now()
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if strings.TrimSpace(rec.Status) == "" {
		rec.Status = AccountActive
	}

	if err := s.Repo.Create(ctx, rec); err != nil {
		return Emprendedor{}, err
	}
	return rec, nil
}

// Get returns a record or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (Emprendedor, error) {
	return s.Repo.GetByID(ctx, strings.TrimSpace(id))
}

// GetByEmail returns the record with the given email.
func (s *Service) GetByEmail(ctx context.Context, email string) (Emprendedor, error) {
	return s.Repo.GetByEmail(ctx, normalizeEmail(email))
}

// GetByUsername returns the record with the given username.
func (s *Service) GetByUsername(ctx context.Context, username string) (Emprendedor, error) {
	return s.Repo.GetByUsername(ctx, strings.TrimSpace(username))
}

// Update merges fields (dotted paths allowed) into the record and refreshes
// its update timestamp. "contrasena" is hashed and "email" is an alias for
// "correo".
func (s *Service) Update(ctx context.Context, id string, fields map[string]any) (Emprendedor, error) {
	fields, password, err := s.prepareFields(fields)
	if err != nil {
		return Emprendedor{}, err
	}
	var hash string
	if password != "" {
		if hash, err = s.hashPassword(password); err != nil {
			return Emprendedor{}, err
		}
	}
	return s.Repo.Mutate(ctx, strings.TrimSpace(id), func(rec *Emprendedor) error {
		next, err := ApplyFields(*rec, fields)
		if err != nil {
			return err
		}
		if next.Email == "" || next.Username == "" || next.Project.Name == "" {
			return &ValidationError{Message: msgMissingFields}
		}
		if hash != "" {
			next.PasswordHash = hash
		}
		next.UpdatedAt = s.now()
		*rec = next
		return nil
	})
}

// UpdateReport stores a completed analysis result, stamping the analysis
// time and forcing the completed state.
func (s *Service) UpdateReport(ctx context.Context, id string, report Report) (Emprendedor, error) {
	return s.Repo.Mutate(ctx, strings.TrimSpace(id), func(rec *Emprendedor) error {
		rec.Report = completeReport(report, s.now())
		rec.UpdatedAt = s.now()
		return nil
	})
}

// TransitionReport replaces the report only if its current state may move to
// next.State. The check and the write are atomic.
func (s *Service) TransitionReport(ctx context.Context, id string, next Report) (Emprendedor, error) {
	if next.State == StateCompleted {
		next = completeReport(next, s.now())
	}
	return s.Repo.Mutate(ctx, strings.TrimSpace(id), func(rec *Emprendedor) error {
		from := rec.Report.State.Normalize()
		if !CanTransition(from, next.State) {
			return &StateConflictError{From: from, To: next.State}
		}
		rec.Report = next
		rec.UpdatedAt = s.now()
		return nil
	})
}

// List returns a filtered page of records, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter, page, limit int) (ListResult, error) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	items, total, err := s.Repo.List(ctx, filter, page, limit)
	if err != nil {
		return ListResult{}, err
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return ListResult{
		Items: items,
		Pagination: Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
		},
	}, nil
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.Repo.Delete(ctx, strings.TrimSpace(id))
}

func (s *Service) ensureUnique(ctx context.Context, field, value string) error {
	var err error
	switch field {
	case FieldEmail:
		_, err = s.Repo.GetByEmail(ctx, value)
	case FieldUsername:
		_, err = s.Repo.GetByUsername(ctx, value)
	default:
		return fmt.Errorf("unknown unique field %q", field)
	}
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return &DuplicateError{Field: field}
}

// prepareFields copies fields, resolving the email alias and pulling out the
// clear-text password. When both correo and email are sent, correo wins.
func (s *Service) prepareFields(fields map[string]any) (map[string]any, string, error) {
	if len(fields) == 0 {
		return nil, "", validationf("no hay campos para actualizar")
	}
	out := make(map[string]any, len(fields))
	var password string
	var alias any
	hasAlias := false
	for key, val := range fields {
		switch strings.TrimSpace(key) {
		case "contrasena":
			pw, ok := val.(string)
			if !ok || pw == "" {
				return nil, "", validationf("contrasena debe ser un texto no vacío")
			}
			password = pw
		case "email":
			alias, hasAlias = val, true
		case "correo":
			out["correo"] = val
		default:
			out[key] = val
		}
	}
	if _, ok := out["correo"]; !ok && hasAlias {
		out["correo"] = alias
	}
	if raw, ok := out["correo"]; ok {
		email, isString := raw.(string)
		if !isString {
			return nil, "", validationf("tipo inválido para el campo correo")
		}
		out["correo"] = normalizeEmail(email)
	}
	if raw, ok := out["usuario"]; ok {
		if username, isString := raw.(string); isString {
			out["usuario"] = strings.TrimSpace(username)
		}
	}
	return out, password, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	cost := s.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", validationf("la contraseña es demasiado larga")
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func completeReport(report Report, at time.Time) Report {
	out := cloneReport(report)
	out.State = StateCompleted
	out.ErrorMessage = ""
	out.AnalyzedAt = &at
	return out
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
