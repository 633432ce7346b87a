package entrepreneurs

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo stores records in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Emprendedor
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Emprendedor)}
}

// Create stores rec unless its email or username is already taken.
func (r *MemoryRepo) Create(ctx context.Context, rec Emprendedor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUniqueLocked(rec); err != nil {
		return err
	}
	r.byID[rec.ID] = clone(rec)
	return nil
}

// GetByID returns a record by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Emprendedor, error) {
	if err := ctx.Err(); err != nil {
		return Emprendedor{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return Emprendedor{}, ErrNotFound
	}
	return clone(rec), nil
}

// GetByEmail returns the record with the exact email.
func (r *MemoryRepo) GetByEmail(ctx context.Context, email string) (Emprendedor, error) {
	return r.find(ctx, func(rec Emprendedor) bool { return rec.Email == email })
}

// GetByUsername returns the record with the exact username.
func (r *MemoryRepo) GetByUsername(ctx context.Context, username string) (Emprendedor, error) {
	return r.find(ctx, func(rec Emprendedor) bool { return rec.Username == username })
}

func (r *MemoryRepo) find(ctx context.Context, match func(Emprendedor) bool) (Emprendedor, error) {
	if err := ctx.Err(); err != nil {
		return Emprendedor{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.byID {
		if match(rec) {
			return clone(rec), nil
		}
	}
	return Emprendedor{}, ErrNotFound
}

// Mutate applies fn under the write lock.
func (r *MemoryRepo) Mutate(ctx context.Context, id string, fn MutateFunc) (Emprendedor, error) {
	if err := ctx.Err(); err != nil {
		return Emprendedor{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[id]
	if !ok {
		return Emprendedor{}, ErrNotFound
	}
	next := clone(current)
	if err := fn(&next); err != nil {
		return Emprendedor{}, err
	}
	next.ID = current.ID
	if err := r.checkUniqueLocked(next); err != nil {
		return Emprendedor{}, err
	}
	r.byID[id] = next
	return clone(next), nil
}

// List returns a page of records, newest first.
func (r *MemoryRepo) List(ctx context.Context, filter ListFilter, page, limit int) ([]Emprendedor, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	matched := make([]Emprendedor, 0, len(r.byID))
	for _, rec := range r.byID {
		if matchesFilter(rec, filter) {
			matched = append(matched, rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	offset := (page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Emprendedor{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Emprendedor, 0, end-offset)
	for _, rec := range matched[offset:end] {
		out = append(out, clone(rec))
	}
	return out, total, nil
}

// Delete removes a record.
func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepo) checkUniqueLocked(rec Emprendedor) error {
	for id, existing := range r.byID {
		if id == rec.ID {
			continue
		}
		if existing.Email == rec.Email {
			return &DuplicateError{Field: FieldEmail}
		}
		if existing.Username == rec.Username {
			return &DuplicateError{Field: FieldUsername}
		}
	}
	return nil
}

func matchesFilter(rec Emprendedor, f ListFilter) bool {
	if f.Sector != "" && rec.Project.Sector != f.Sector {
		return false
	}
	if f.Stage != "" && rec.Project.Stage != f.Stage {
		return false
	}
	if f.Country != "" && rec.Country != f.Country {
		return false
	}
	return true
}

// clone deep-copies the slices and pointers a caller could mutate.
func clone(rec Emprendedor) Emprendedor {
	out := rec
	out.Project.Competitors = append([]string(nil), rec.Project.Competitors...)
	out.Project.CompetitiveEdges = append([]string(nil), rec.Project.CompetitiveEdges...)
	if rec.Market != nil {
		m := *rec.Market
		m.DistributionChannels = append([]string(nil), m.DistributionChannels...)
		out.Market = &m
	}
	if rec.Financials != nil {
		f := *rec.Financials
		f.RevenueProjection = append([]float64(nil), f.RevenueProjection...)
		out.Financials = &f
	}
	if rec.Team != nil {
		t := *rec.Team
		t.Founders = append([]string(nil), t.Founders...)
		t.Advisors = append([]string(nil), t.Advisors...)
		t.HiringNeeds = append([]string(nil), t.HiringNeeds...)
		out.Team = &t
	}
	if rec.Technology != nil {
		t := *rec.Technology
		t.Stack = append([]string(nil), t.Stack...)
		t.Patents = append([]string(nil), t.Patents...)
		out.Technology = &t
	}
	if rec.Traction != nil {
		t := *rec.Traction
		if t.Metrics != nil {
			m := make(map[string]any, len(t.Metrics))
			for k, v := range t.Metrics {
				m[k] = v
			}
			t.Metrics = m
		}
		out.Traction = &t
	}
	out.Report = cloneReport(rec.Report)
	return out
}

func cloneReport(r Report) Report {
	out := r
	out.SimilarProjects = append([]SimilarProject(nil), r.SimilarProjects...)
	out.Recommendations = append([]string(nil), r.Recommendations...)
	out.Pivots = append([]string(nil), r.Pivots...)
	out.Strengths = append([]string(nil), r.Strengths...)
	out.Weaknesses = append([]string(nil), r.Weaknesses...)
	out.Opportunities = append([]string(nil), r.Opportunities...)
	out.Threats = append([]string(nil), r.Threats...)
	if r.AnalyzedAt != nil {
		t := *r.AnalyzedAt
		out.AnalyzedAt = &t
	}
	return out
}
