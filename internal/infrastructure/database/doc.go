// Package database provides the SQLite connection used for event history.
//
// The brewery's live state is in memory; SQLite only keeps what happened:
// control transitions and operator edits, so an operator can see why a
// heater switched and who moved a setpoint.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or defaulted, and
// every .up.sql ships with a .down.sql.
package database
