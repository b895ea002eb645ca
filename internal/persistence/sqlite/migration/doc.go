// Package migration applies versioned SQL files to a SQLite database.
//
// Files are read from an fs.FS (normally an embedded directory) and must be named
// {version}_{description}.sql, for example "001_initial_schema.sql". Applied versions and
// their checksums are tracked in the schema_migrations table; each file runs in its own
// transaction together with its bookkeeping row.
//
//	manager := migration.NewManager(db, migrations, "migrations", logger)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
