// Package database owns the SQLite file behind the device registry and
// the event log.
//
// Open applies the connection pragmas (busy timeout, foreign keys,
// immediate transactions and, for files, WAL journaling) through the DSN,
// so every pooled connection gets them. Writers share a single connection.
//
// Migrate applies numbered NNN_name.up.sql files from an fs.FS and records
// a checksum for each; editing a migration after it has run is reported as
// ErrMigrationChanged rather than silently ignored.
//
//	db, err := database.Open(database.Config{Path: "./data/substation.db", WALMode: true})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx, migrations.FS)
package database
