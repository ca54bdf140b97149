// Package database provides SQLite connectivity for the P2Plant IOC.
//
// It opens the database with WAL mode and a busy timeout, and applies
// schema migrations from an fs.FS (the embedded set lives in the
// top-level migrations package). The audit package stores the PV write
// log here.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migrations are additive: each version has an .up.sql and, where a
// rollback makes sense, a .down.sql.
package database
