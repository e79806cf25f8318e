package repository

import (
	"github.com/Astemirdum/library-desk/pkg/postgres"
	"github.com/Astemirdum/library-desk/pkg/sqlite"
	sq "github.com/Masterminds/squirrel"
)

// Dialect captures what differs between the supported SQL backends.
type Dialect struct {
	Name              string
	Placeholder       sq.PlaceholderFormat
	IsUniqueViolation func(err error) bool
	// Lower is the SQL function folding case for search, lower when empty.
	Lower string
}

func PostgresDialect() Dialect {
	return Dialect{
		Name:              "postgres",
		Placeholder:       sq.Dollar,
		IsUniqueViolation: postgres.IsUniqueViolation,
		Lower:             "lower",
	}
}

func SQLiteDialect() Dialect {
	return Dialect{
		Name:              "sqlite",
		Placeholder:       sq.Question,
		IsUniqueViolation: sqlite.IsUniqueViolation,
		Lower:             sqlite.LowerFunc,
	}
}

func (d Dialect) uniqueViolation(err error) bool {
	return d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

func (d Dialect) lower() string {
	if d.Lower == "" {
		return "lower"
	}
	return d.Lower
}
