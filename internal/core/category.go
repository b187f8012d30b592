package core

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var embeddedCategories []byte

const (
	TypeIncome  Type = "INCOME"
	TypeExpense Type = "EXPENSE"
)

// Type is the direction of a transaction.
type Type string

func (t Type) IsValid() bool {
	return t == TypeIncome || t == TypeExpense
}

// Label returns the display name shown to users.
func (t Type) Label() string {
	switch t {
	case TypeIncome:
		return "收入"
	case TypeExpense:
		return "支出"
	default:
		return string(t)
	}
}

func (t Type) String() string { return string(t) }

// ParseType accepts the enum code in any case plus the display label.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "INCOME", "IN", "收入":
		return TypeIncome, nil
	case "EXPENSE", "OUT", "支出":
		return TypeExpense, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Category is one entry of the fixed category catalog.
type Category string

type categoryInfo struct {
	Code  string `yaml:"code"`
	Type  Type   `yaml:"type"`
	Label string `yaml:"label"`
	Emoji string `yaml:"emoji"`
	order int
}

type catalogFile struct {
	Categories []categoryInfo `yaml:"categories"`
}

var (
	catalog      map[Category]categoryInfo
	catalogOrder []Category
)

func init() {
	if err := loadCatalog(embeddedCategories); err != nil {
		panic(fmt.Sprintf("core: load embedded categories: %v", err))
	}
}

func loadCatalog(data []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse categories: %w", err)
	}
	if len(file.Categories) == 0 {
		return fmt.Errorf("no categories defined")
	}

	byCode := make(map[Category]categoryInfo, len(file.Categories))
	order := make([]Category, 0, len(file.Categories))
	for i, c := range file.Categories {
		code := Category(strings.TrimSpace(c.Code))
		if code == "" {
			return fmt.Errorf("category %d: empty code", i)
		}
		if !c.Type.IsValid() {
			return fmt.Errorf("category %s: invalid type %q", code, c.Type)
		}
		if _, dup := byCode[code]; dup {
			return fmt.Errorf("category %s: duplicate code", code)
		}
		c.order = i
		byCode[code] = c
		order = append(order, code)
	}

	catalog = byCode
	catalogOrder = order
	return nil
}

// Categories returns every category in catalog order.
func Categories() []Category {
	return append([]Category(nil), catalogOrder...)
}

// CategoriesFor returns the categories whose implied type is t.
func CategoriesFor(t Type) []Category {
	var out []Category
	for _, c := range catalogOrder {
		if catalog[c].Type == t {
			out = append(out, c)
		}
	}
	return out
}

// ParseCategory resolves a code (case-insensitive) or a display label.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if c := Category(strings.ToUpper(s)); c.IsValid() {
		return c, nil
	}
	for _, c := range catalogOrder {
		if catalog[c].Label == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

func (c Category) IsValid() bool {
	_, ok := catalog[c]
	return ok
}

func (c Category) Label() string {
	if info, ok := catalog[c]; ok {
		return info.Label
	}
	return string(c)
}

func (c Category) Emoji() string {
	return catalog[c].Emoji
}

// Type is the transaction type the category is meant for.
func (c Category) Type() Type {
	return catalog[c].Type
}

// Order is the catalog position; unknown categories sort last.
func (c Category) Order() int {
	if info, ok := catalog[c]; ok {
		return info.order
	}
	return len(catalogOrder)
}

// Matches reports whether the category belongs to transactions of type t.
// Stores accept mismatches; callers that want strictness check this.
func (c Category) Matches(t Type) bool {
	return c.IsValid() && catalog[c].Type == t
}

func (c Category) String() string { return string(c) }
