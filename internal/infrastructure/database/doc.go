// Package database provides SQLite connectivity for SerialHome Core.
//
// It opens the store with WAL mode and foreign keys enabled, and applies
// the additive schema migrations embedded by the migrations package:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements. The file is chmod 0600.
package database
