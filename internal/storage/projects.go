package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var projectColumns = []string{"id", "owner_id", "name", "is_public", "created_at", "updated_at"}

// CreateProject inserts p. Zero timestamps are set to now.
func (s *Store) CreateProject(p Project) (Project, error) {
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, owner_id, name, is_public, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.IsPublic, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return Project{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC().Truncate(time.Second)
	p.UpdatedAt = p.UpdatedAt.UTC().Truncate(time.Second)
	return p, nil
}

// GetProject returns the project with the given id.
func (s *Store) GetProject(id string) (Project, error) {
	ps, err := s.queryProjects(builder.Select(projectColumns...).From("projects").Where(sq.Eq{"id": id}))
	if err != nil {
		return Project{}, err
	}
	if len(ps) == 0 {
		return Project{}, ErrNotFound
	}
	return ps[0], nil
}

// ListProjects returns ownerID's projects, newest first. An empty ownerID
// lists every project.
func (s *Store) ListProjects(ownerID string) ([]Project, error) {
	q := builder.Select(projectColumns...).From("projects").OrderBy("created_at DESC", "id ASC")
	if ownerID != "" {
		q = q.Where(sq.Eq{"owner_id": ownerID})
	}
	return s.queryProjects(q)
}

// UpdateProject applies the non-nil fields of patch and returns the updated
// row. An empty patch only bumps updated_at.
func (s *Store) UpdateProject(id string, patch ProjectPatch) (Project, error) {
	q := builder.Update("projects").Set("updated_at", s.timestamp()).Where(sq.Eq{"id": id})
	if patch.Name != nil {
		q = q.Set("name", *patch.Name)
	}
	if patch.IsPublic != nil {
		q = q.Set("is_public", *patch.IsPublic)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return Project{}, fmt.Errorf("building project update: %w", err)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return Project{}, err
	}
	if err := expectOneRow(res); err != nil {
		return Project{}, err
	}
	return s.GetProject(id)
}

// DeleteProject removes the project with the given id and returns its owner.
func (s *Store) DeleteProject(id string) (string, error) {
	var owner string
	err := s.inTx(func(tx *sql.Tx) error {
		err := tx.QueryRow("SELECT owner_id FROM projects WHERE id = ?", id).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec("DELETE FROM projects WHERE id = ?", id)
		return err
	})
	return owner, err
}

func (s *Store) queryProjects(q sq.Sqlizer) ([]Project, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building project query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Project{}
	for rows.Next() {
		var p Project
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.IsPublic, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}
