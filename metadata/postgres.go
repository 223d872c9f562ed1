package metadata

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// LoadTables reads the constants, constant sets and area hierarchy of one collection
func LoadTables(db *sql.DB, collectionID string) (*Tables, error) {
	t := NewTables()

	rows, err := db.Query(`
		SELECT const_id, string, display_name
		FROM constants
		WHERE collection_id = $1
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query constants: %w", err)
	}
	for rows.Next() {
		var c Constant
		var display sql.NullString
		if err := rows.Scan(&c.ID, &c.String, &display); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan constant: %w", err)
		}
		c.DisplayName = display.String
		t.constants[c.ID] = c
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("error iterating constants: %w", err)
	}

	rows, err = db.Query(`
		SELECT parent_id, const_id
		FROM constant_sets
		WHERE collection_id = $1
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query constant sets: %w", err)
	}
	for rows.Next() {
		var parent, child int
		if err := rows.Scan(&parent, &child); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan constant set member: %w", err)
		}
		members, ok := t.children[parent]
		if !ok {
			members = make(map[int]struct{})
			t.children[parent] = members
		}
		members[child] = struct{}{}
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("error iterating constant sets: %w", err)
	}

	rows, err = db.Query(`
		SELECT area_id, parent_id
		FROM hierarchy
		WHERE collection_id = $1
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hierarchy: %w", err)
	}
	for rows.Next() {
		var area, parent int
		if err := rows.Scan(&area, &parent); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan hierarchy node: %w", err)
		}
		t.parents[area] = parent
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("error iterating hierarchy: %w", err)
	}

	return t, nil
}

// SaveTables replaces the stored metadata of one collection with t
func SaveTables(db *sql.DB, collectionID string, t *Tables) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"constants", "constant_sets", "hierarchy"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE collection_id = $1`, collectionID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, c := range t.Constants() {
		_, err := tx.Exec(`
			INSERT INTO constants (collection_id, const_id, string, display_name)
			VALUES ($1, $2, $3, NULLIF($4, ''))
		`, collectionID, c.ID, c.String, c.DisplayName)
		if err != nil {
			return fmt.Errorf("failed to insert constant %d: %w", c.ID, err)
		}
	}

	for _, m := range t.SetMembers() {
		_, err := tx.Exec(`
			INSERT INTO constant_sets (collection_id, parent_id, const_id)
			VALUES ($1, $2, $3)
		`, collectionID, m.ParentID, m.ConstID)
		if err != nil {
			return fmt.Errorf("failed to insert constant set member %d/%d: %w", m.ParentID, m.ConstID, err)
		}
	}

	for area, parent := range t.Parents() {
		_, err := tx.Exec(`
			INSERT INTO hierarchy (collection_id, area_id, parent_id)
			VALUES ($1, $2, $3)
		`, collectionID, area, parent)
		if err != nil {
			return fmt.Errorf("failed to insert hierarchy node %d: %w", area, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", err)
	}
	return nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	rows.Close()
	return err
}
