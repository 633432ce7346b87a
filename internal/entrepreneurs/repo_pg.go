package entrepreneurs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"unicornio-backend/internal/shared/storage/db"
)

const (
	pgUniqueViolation = "23505"

	constraintEmail    = "emprendedores_correo_key"
	constraintUsername = "emprendedores_usuario_key"
)

// PGRepo implements Repo on Postgres. Each record is a JSONB document with
// its unique and filterable fields mirrored into indexed columns.
type PGRepo struct {
	DB *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

const selectColumns = `id, password_hash, documento, fecha_registro`

// Create inserts a new record.
func (r *PGRepo) Create(ctx context.Context, rec Emprendedor) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode emprendedor: %w", err)
	}
	const query = `
INSERT INTO emprendedores (
	id, correo, usuario, pais, sector, etapa, informe_estado, password_hash, documento, fecha_registro, ultima_actualizacion
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.DB.ExecContext(ctx, query,
		rec.ID,
		rec.Email,
		rec.Username,
		rec.Country,
		rec.Project.Sector,
		rec.Project.Stage,
		string(rec.Report.State.Normalize()),
		rec.PasswordHash,
		doc,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return mapPGError(err)
}

// GetByID returns a record by ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Emprendedor, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Emprendedor{}, ErrNotFound
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM emprendedores WHERE id = $1`, id)
	return scanRecord(row)
}

// GetByEmail returns the record with the exact email.
func (r *PGRepo) GetByEmail(ctx context.Context, email string) (Emprendedor, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM emprendedores WHERE correo = $1`, email)
	return scanRecord(row)
}

// GetByUsername returns the record with the exact username.
func (r *PGRepo) GetByUsername(ctx context.Context, username string) (Emprendedor, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM emprendedores WHERE usuario = $1`, username)
	return scanRecord(row)
}

// Mutate locks the row, applies fn and writes the document back in one transaction.
func (r *PGRepo) Mutate(ctx context.Context, id string, fn MutateFunc) (Emprendedor, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Emprendedor{}, ErrNotFound
	}
	var out Emprendedor
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM emprendedores WHERE id = $1 FOR UPDATE`, id)
		current, err := scanRecord(row)
		if err != nil {
			return err
		}
		next := current
		if err := fn(&next); err != nil {
			return err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt

		doc, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode emprendedor: %w", err)
		}
		const query = `
UPDATE emprendedores
SET correo = $2, usuario = $3, pais = $4, sector = $5, etapa = $6, informe_estado = $7,
    password_hash = $8, documento = $9, ultima_actualizacion = $10
WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query,
			next.ID,
			next.Email,
			next.Username,
			next.Country,
			next.Project.Sector,
			next.Project.Stage,
			string(next.Report.State.Normalize()),
			next.PasswordHash,
			doc,
			next.UpdatedAt,
		); err != nil {
			return mapPGError(err)
		}
		out = next
		return nil
	})
	if err != nil {
		return Emprendedor{}, err
	}
	return out, nil
}

// List returns a page of records, newest first, plus the filtered total.
func (r *PGRepo) List(ctx context.Context, filter ListFilter, page, limit int) ([]Emprendedor, int, error) {
	where, args := buildListWhere(filter)

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM emprendedores`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT %s FROM emprendedores%s ORDER BY fecha_registro DESC, id LIMIT $%d OFFSET $%d`,
		selectColumns, where, len(args)+1, len(args)+2)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Emprendedor{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Delete removes a record.
func (r *PGRepo) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM emprendedores WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func buildListWhere(filter ListFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("sector", filter.Sector)
	add("etapa", filter.Stage)
	add("pais", filter.Country)
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanRecord(row rowScanner) (Emprendedor, error) {
	var (
		id           string
		passwordHash sql.NullString
		doc          []byte
		rec          Emprendedor
	)
	if err := row.Scan(&id, &passwordHash, &doc, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Emprendedor{}, ErrNotFound
		}
		return Emprendedor{}, err
	}
	createdAt := rec.CreatedAt
	if err := json.Unmarshal(doc, &rec); err != nil {
		return Emprendedor{}, fmt.Errorf("decode emprendedor %s: %w", id, err)
	}
	rec.ID = id
	rec.CreatedAt = createdAt
	rec.PasswordHash = passwordHash.String
	rec.Report.State = rec.Report.State.Normalize()
	return rec, nil
}

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case constraintEmail:
			return &DuplicateError{Field: FieldEmail}
		case constraintUsername:
			return &DuplicateError{Field: FieldUsername}
		}
	}
	return err
}
