// Package database provides SQLite connectivity for the LumiSync device
// cache.
//
// The database holds the persisted device registry and the selected
// device. Schema changes are applied by Migrate from SQL files embedded
// in the migrations package, tracked in a schema_migrations table.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
