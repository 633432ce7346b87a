package entrepreneurs

import "context"

// MutateFunc edits a record in place. Returning an error aborts the write.
type MutateFunc func(rec *Emprendedor) error

// Repo defines persistence operations for entrepreneur records.
// Implementations enforce email and username uniqueness atomically.
type Repo interface {
	Create(ctx context.Context, rec Emprendedor) error
	GetByID(ctx context.Context, id string) (Emprendedor, error)
	GetByEmail(ctx context.Context, email string) (Emprendedor, error)
	GetByUsername(ctx context.Context, username string) (Emprendedor, error)
	// Mutate applies fn to the current record under a per-record lock and
	// persists the result, returning the stored record.
	Mutate(ctx context.Context, id string, fn MutateFunc) (Emprendedor, error)
	List(ctx context.Context, filter ListFilter, page, limit int) ([]Emprendedor, int, error)
	Delete(ctx context.Context, id string) error
}
