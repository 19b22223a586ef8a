package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// currentRead makes a read inside tx see every row committed before it runs, not the
// transaction's snapshot. MySQL runs at REPEATABLE READ by default, where only a locking
// read does that. Postgres runs at READ COMMITTED, which already does, and refuses
// locking clauses on aggregates. SQLite ignores the clause.
func currentRead(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "SHARE"})
	}
	return tx
}
