package collection

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/witrules/internal/logger"
	"github.com/liamcoop/witrules/metadata"
	"github.com/liamcoop/witrules/rules"
	"github.com/liamcoop/witrules/workitem"
)

// Fixture is the YAML form of a collection: metadata, work item fields and rules
type Fixture struct {
	ID        string                `yaml:"id,omitempty"`
	Name      string                `yaml:"name"`
	Constants []metadata.Constant   `yaml:"constants,omitempty"`
	Sets      []metadata.SetMember  `yaml:"sets,omitempty"`
	Hierarchy []AreaParent          `yaml:"hierarchy,omitempty"`
	Fields    []workitem.Definition `yaml:"fields,omitempty"`
	Rules     []FixtureRule         `yaml:"rules,omitempty"`
}

// AreaParent is one edge of the area hierarchy
type AreaParent struct {
	AreaID   int `yaml:"areaId"`
	ParentID int `yaml:"parentId"`
}

// FixtureRule is a rule row with its flags spelled out by name
type FixtureRule struct {
	RuleID            int             `yaml:"ruleId,omitempty"`
	AreaID            int             `yaml:"areaId,omitempty"`
	Flags             []string        `yaml:"flags,omitempty"`
	Fld1              rules.FieldSlot `yaml:"fld1,omitempty"`
	Fld2              rules.FieldSlot `yaml:"fld2,omitempty"`
	Fld3              rules.FieldSlot `yaml:"fld3,omitempty"`
	Fld4              rules.FieldSlot `yaml:"fld4,omitempty"`
	IfFldID           int             `yaml:"ifFldId,omitempty"`
	IfConstID         int             `yaml:"ifConstId,omitempty"`
	If2FldID          int             `yaml:"if2FldId,omitempty"`
	If2ConstID        int             `yaml:"if2ConstId,omitempty"`
	ObjectTypeScopeID int             `yaml:"objectTypeScopeId,omitempty"`
	PersonID          int             `yaml:"personId,omitempty"`
	RootTreeID        int             `yaml:"rootTreeId,omitempty"`
	ThenFldID         int             `yaml:"thenFldId,omitempty"`
	ThenConstID       int             `yaml:"thenConstId,omitempty"`
}

// Row converts the fixture rule into a rule row
func (fr FixtureRule) Row() (rules.Row, error) {
	f1, f2, err := rules.ParseFlags(fr.Flags)
	if err != nil {
		return rules.Row{}, err
	}
	return rules.Row{
		RuleID:            fr.RuleID,
		AreaID:            fr.AreaID,
		Fld1:              fr.Fld1,
		Fld2:              fr.Fld2,
		Fld3:              fr.Fld3,
		Fld4:              fr.Fld4,
		IfFldID:           fr.IfFldID,
		IfConstID:         fr.IfConstID,
		If2FldID:          fr.If2FldID,
		If2ConstID:        fr.If2ConstID,
		ObjectTypeScopeID: fr.ObjectTypeScopeID,
		PersonID:          fr.PersonID,
		RootTreeID:        fr.RootTreeID,
		Flags1:            f1,
		Flags2:            f2,
		ThenFldID:         fr.ThenFldID,
		ThenConstID:       fr.ThenConstID,
	}, nil
}

// LoadFixtureFile reads a YAML fixture from path, see LoadFixture
func (m *Manager) LoadFixtureFile(path string) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()

	c, err := m.LoadFixture(f)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return c, nil
}

// LoadFixture builds an in-memory collection from a YAML fixture. A fixture with
// the id of a loaded collection replaces it.
func (m *Manager) LoadFixture(r io.Reader) (*Collection, error) {
	fx, err := parseFixture(r)
	if err != nil {
		return nil, err
	}
	if fx.ID == "" {
		fx.ID = uuid.NewString()
	}
	if existing := m.byName(fx.Name); existing != nil && existing.ID != fx.ID {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, fx.Name)
	}

	tables, rows, err := fx.build()
	if err != nil {
		return nil, err
	}
	store := rules.NewInMemoryRuleStore()
	for i := range rows {
		if err := store.Add(&rows[i]); err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i+1, err)
		}
	}

	c := newCollection(fx.ID, fx.Name, tables, store, m.cacheConfig)
	c.Fields = fx.Fields
	m.add(c)

	logger.Info("fixture loaded",
		"collectionId", c.ID, "name", c.Name,
		"rules", len(rows), "constants", len(fx.Constants), "fields", len(fx.Fields))
	return c, nil
}

// ImportFixture stores a YAML fixture as a new database collection. The fixture
// id is ignored; the database assigns one. Field definitions are not persisted.
func (m *Manager) ImportFixture(r io.Reader) (*Collection, error) {
	if m.db == nil {
		return nil, fmt.Errorf("importing a fixture requires a database")
	}
	fx, err := parseFixture(r)
	if err != nil {
		return nil, err
	}
	tables, rows, err := fx.build()
	if err != nil {
		return nil, err
	}

	c, err := m.newEmpty(fx.Name)
	if err != nil {
		return nil, err
	}
	if err := m.fill(c, tables, rows); err != nil {
		if _, delErr := m.db.Exec(`DELETE FROM collections WHERE id = $1`, c.ID); delErr != nil {
			logger.Error("failed to remove partial collection", "collectionId", c.ID, "error", delErr)
		}
		return nil, err
	}
	c.Fields = fx.Fields
	m.add(c)

	logger.Info("fixture imported", "collectionId", c.ID, "name", c.Name, "rules", len(rows))
	return c, nil
}

// fill stores metadata and rows in an unregistered database collection
func (m *Manager) fill(c *Collection, tables *metadata.Tables, rows []rules.Row) error {
	if err := metadata.SaveTables(m.db, c.ID, tables); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	c.Tables = tables
	for i := range rows {
		if err := c.Store.Add(&rows[i]); err != nil {
			return fmt.Errorf("rule #%d: %w", i+1, err)
		}
	}
	return nil
}

func parseFixture(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var fx Fixture
	if err := dec.Decode(&fx); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty fixture")
		}
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	fx.Name = strings.TrimSpace(fx.Name)
	if fx.Name == "" {
		return nil, fmt.Errorf("fixture name is required")
	}
	return &fx, nil
}

// build converts the fixture into metadata tables and validated rule rows
func (fx *Fixture) build() (*metadata.Tables, []rules.Row, error) {
	tables := metadata.NewTables()
	for _, c := range fx.Constants {
		tables.AddConstant(c)
	}
	for _, s := range fx.Sets {
		tables.AddSetMember(s.ParentID, s.ConstID)
	}
	for _, h := range fx.Hierarchy {
		tables.SetParent(h.AreaID, h.ParentID)
	}

	rows := make([]rules.Row, 0, len(fx.Rules))
	for i, fr := range fx.Rules {
		row, err := fr.Row()
		if err != nil {
			return nil, nil, fmt.Errorf("rule #%d: %w", i+1, err)
		}
		if err := ValidateRow(&row); err != nil {
			return nil, nil, fmt.Errorf("rule #%d: %w", i+1, err)
		}
		rows = append(rows, row)
	}
	return tables, rows, nil
}

func (m *Manager) byName(name string) *Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.collections {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}
