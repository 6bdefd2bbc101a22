package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const patchNoteColumns = `id, title, markdown, ref_type, ref_id, created_at, updated_at`

func scanPatchNote(row rowScanner) (*PatchNote, error) {
	var (
		n       PatchNote
		refType string
	)
	err := row.Scan(&n.ID, &n.Title, &n.Markdown, &refType, &n.RefID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan patch note: %w", err)
	}
	n.RefType = PatchRefType(refType)
	return &n, nil
}

// PatchNoteParams holds the writable fields of a patch note.
type PatchNoteParams struct {
	Title    string
	Markdown string
	RefType  PatchRefType
	RefID    uuid.UUID
}

// CreatePatchNote attaches a patch note to the referenced entity.
func (s *Store) CreatePatchNote(ctx context.Context, p PatchNoteParams) (*PatchNote, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO patch_notes (title, markdown, ref_type, ref_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+patchNoteColumns,
		p.Title, p.Markdown, p.RefType, p.RefID)
	return scanPatchNote(row)
}

// GetPatchNote returns a single patch note by ID.
func (s *Store) GetPatchNote(ctx context.Context, id uuid.UUID) (*PatchNote, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+patchNoteColumns+` FROM patch_notes WHERE id = $1`, id)
	return scanPatchNote(row)
}

// UpdatePatchNote replaces the writable fields of a patch note.
func (s *Store) UpdatePatchNote(ctx context.Context, id uuid.UUID, p PatchNoteParams) (*PatchNote, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE patch_notes
		 SET title = $2, markdown = $3, ref_type = $4, ref_id = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING `+patchNoteColumns,
		id, p.Title, p.Markdown, p.RefType, p.RefID)
	return scanPatchNote(row)
}

// DeletePatchNote removes a patch note.
func (s *Store) DeletePatchNote(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM patch_notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete patch note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPatchNotesByRef returns the patch notes attached to one entity, newest
// first.
func (s *Store) ListPatchNotesByRef(ctx context.Context, ref PatchRef) ([]*PatchNote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+patchNoteColumns+`
		 FROM patch_notes
		 WHERE ref_type = $1 AND ref_id = $2
		 ORDER BY created_at DESC`, ref.RefType, ref.RefID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patch notes: %w", err)
	}
	defer rows.Close()

	var notes []*PatchNote
	for rows.Next() {
		n, err := scanPatchNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// HasPatchNotes reports which of the given refs have at least one patch note.
func (s *Store) HasPatchNotes(ctx context.Context, refs []PatchRef) (map[PatchRef]bool, error) {
	result := make(map[PatchRef]bool, len(refs))
	if len(refs) == 0 {
		return result, nil
	}

	types := make([]string, len(refs))
	ids := make([]uuid.UUID, len(refs))
	for i, r := range refs {
		types[i] = string(r.RefType)
		ids[i] = r.RefID
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ref_type, ref_id
		 FROM patch_notes
		 WHERE (ref_type::text, ref_id) IN (
		     SELECT unnest($1::text[]), unnest($2::uuid[])
		 )`, types, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query patch note refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			refType string
			refID   uuid.UUID
		)
		if err := rows.Scan(&refType, &refID); err != nil {
			return nil, fmt.Errorf("failed to scan patch note ref: %w", err)
		}
		result[PatchRef{RefType: PatchRefType(refType), RefID: refID}] = true
	}
	return result, rows.Err()
}
