// Package database owns the SQLite file that backs the fleet state.
//
// It opens the connection with WAL mode and a busy timeout, pins the
// pool to a single connection to match SQLite's one-writer model, and
// runs the embedded schema migrations at startup. Every table is
// created STRICT and every query in the repositories above this
// package uses parameterised statements.
//
// Typical startup sequence:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive. New columns are nullable or carry defaults,
// and each version ships an up and a down file so MigrateDown can
// unwind the latest change during development.
package database
