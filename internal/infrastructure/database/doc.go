// Package database provides the SQLite store used for entity state history.
//
// The hub is the system of record for entity state; this database only keeps
// a local trail of observed changes so the status API can answer "what
// happened to light.kitchen in the last hour" without asking the hub.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Forward-only schema migrations embedded into the binary
//   - Health checks for the status API
//
// Usage:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
