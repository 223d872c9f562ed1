package rules

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

const rowColumns = `rule_id, area_id, cachestamp, deleted,
	fld1_id, fld1_is_const_id, fld1_was_const_id,
	fld2_id, fld2_is_const_id, fld2_was_const_id,
	fld3_id, fld3_is_const_id, fld3_was_const_id,
	fld4_id, fld4_is_const_id, fld4_was_const_id,
	if_fld_id, if_const_id, if2_fld_id, if2_const_id,
	object_type_scope_id, person_id, root_tree_id,
	rule_flags1, rule_flags2, then_fld_id, then_const_id`

// PostgresRuleStore implements RuleStore backed by PostgreSQL
type PostgresRuleStore struct {
	db           *sql.DB
	collectionID string
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore for one collection
func NewPostgresRuleStore(db *sql.DB, collectionID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:           db,
		collectionID: collectionID,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(sc rowScanner) (*Row, error) {
	var r Row
	var f1, f2 int64
	err := sc.Scan(
		&r.RuleID, &r.AreaID, &r.Cachestamp, &r.Deleted,
		&r.Fld1.ID, &r.Fld1.IsConstID, &r.Fld1.WasConstID,
		&r.Fld2.ID, &r.Fld2.IsConstID, &r.Fld2.WasConstID,
		&r.Fld3.ID, &r.Fld3.IsConstID, &r.Fld3.WasConstID,
		&r.Fld4.ID, &r.Fld4.IsConstID, &r.Fld4.WasConstID,
		&r.IfFldID, &r.IfConstID, &r.If2FldID, &r.If2ConstID,
		&r.ObjectTypeScopeID, &r.PersonID, &r.RootTreeID,
		&f1, &f2, &r.ThenFldID, &r.ThenConstID,
	)
	if err != nil {
		return nil, err
	}
	r.Flags1 = Flags1(f1)
	r.Flags2 = Flags2(f2)
	return &r, nil
}

// rowArgs returns the column values after rule_id, area_id, cachestamp and deleted
func rowArgs(r *Row) []any {
	return []any{
		r.Fld1.ID, r.Fld1.IsConstID, r.Fld1.WasConstID,
		r.Fld2.ID, r.Fld2.IsConstID, r.Fld2.WasConstID,
		r.Fld3.ID, r.Fld3.IsConstID, r.Fld3.WasConstID,
		r.Fld4.ID, r.Fld4.IsConstID, r.Fld4.WasConstID,
		r.IfFldID, r.IfConstID, r.If2FldID, r.If2ConstID,
		r.ObjectTypeScopeID, r.PersonID, r.RootTreeID,
		int64(r.Flags1), int64(r.Flags2), r.ThenFldID, r.ThenConstID,
	}
}

// Add inserts a new row into the database
func (s *PostgresRuleStore) Add(row *Row) error {
	if row.RuleID != 0 {
		var exists bool
		err := s.db.QueryRow(`
			SELECT EXISTS(SELECT 1 FROM rules WHERE rule_id = $1 AND collection_id = $2)
		`, row.RuleID, s.collectionID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check rule existence: %w", err)
		}
		if exists {
			return fmt.Errorf("rule with ID %d already exists", row.RuleID)
		}
	}

	args := append([]any{s.collectionID, row.RuleID, row.AreaID}, rowArgs(row)...)
	err := s.db.QueryRow(`
		INSERT INTO rules (collection_id, rule_id, area_id, cachestamp, deleted,
			fld1_id, fld1_is_const_id, fld1_was_const_id,
			fld2_id, fld2_is_const_id, fld2_was_const_id,
			fld3_id, fld3_is_const_id, fld3_was_const_id,
			fld4_id, fld4_is_const_id, fld4_was_const_id,
			if_fld_id, if_const_id, if2_fld_id, if2_const_id,
			object_type_scope_id, person_id, root_tree_id,
			rule_flags1, rule_flags2, then_fld_id, then_const_id)
		SELECT $1,
			CASE WHEN $2 = 0 THEN COALESCE(MAX(rule_id), 0) + 1 ELSE $2 END,
			$3, nextval('rule_cachestamp_seq'), FALSE,
			$4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		FROM rules WHERE collection_id = $1
		RETURNING rule_id, cachestamp
	`, args...).Scan(&row.RuleID, &row.Cachestamp)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	row.Deleted = false

	return nil
}

// Get retrieves a row by rule id
func (s *PostgresRuleStore) Get(id int) (*Row, error) {
	r, err := scanRow(s.db.QueryRow(`
		SELECT `+rowColumns+`
		FROM rules
		WHERE rule_id = $1 AND collection_id = $2
	`, id, s.collectionID))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return r, nil
}

// ListForArea returns the non-deleted rows of an area node
func (s *PostgresRuleStore) ListForArea(areaID int) ([]*Row, error) {
	return s.query(`
		SELECT `+rowColumns+`
		FROM rules
		WHERE collection_id = $1 AND area_id = $2 AND deleted = FALSE
		ORDER BY rule_id ASC
	`, s.collectionID, areaID)
}

// List returns every row of the collection
func (s *PostgresRuleStore) List() ([]*Row, error) {
	return s.query(`
		SELECT `+rowColumns+`
		FROM rules
		WHERE collection_id = $1
		ORDER BY rule_id ASC
	`, s.collectionID)
}

func (s *PostgresRuleStore) query(query string, args ...any) ([]*Row, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return out, nil
}

// Update modifies an existing row and restamps it
func (s *PostgresRuleStore) Update(row *Row) error {
	args := append([]any{row.RuleID, s.collectionID, row.AreaID, row.Deleted}, rowArgs(row)...)
	err := s.db.QueryRow(`
		UPDATE rules SET
			area_id = $3, deleted = $4, cachestamp = nextval('rule_cachestamp_seq'),
			fld1_id = $5, fld1_is_const_id = $6, fld1_was_const_id = $7,
			fld2_id = $8, fld2_is_const_id = $9, fld2_was_const_id = $10,
			fld3_id = $11, fld3_is_const_id = $12, fld3_was_const_id = $13,
			fld4_id = $14, fld4_is_const_id = $15, fld4_was_const_id = $16,
			if_fld_id = $17, if_const_id = $18, if2_fld_id = $19, if2_const_id = $20,
			object_type_scope_id = $21, person_id = $22, root_tree_id = $23,
			rule_flags1 = $24, rule_flags2 = $25, then_fld_id = $26, then_const_id = $27
		WHERE rule_id = $1 AND collection_id = $2
		RETURNING cachestamp
	`, args...).Scan(&row.Cachestamp)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rule %d: %w", row.RuleID, ErrRuleNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return nil
}

// Delete marks a row deleted
func (s *PostgresRuleStore) Delete(id int) error {
	result, err := s.db.Exec(`
		UPDATE rules
		SET deleted = TRUE, cachestamp = nextval('rule_cachestamp_seq')
		WHERE rule_id = $1 AND collection_id = $2
	`, id, s.collectionID)

	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}

	return nil
}
