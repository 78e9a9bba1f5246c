// Package archive keeps resolved approval requests for audit.
//
// A Store receives every request an approval.Engine resolves (it satisfies
// approval.Archive) and answers queries by status, policy and time range.
// Two backends are provided: an in-memory store for tests and single-process
// use, and a SQLite store for durable history.
//
// A Pruner enforces retention by age and record count, and a Scheduler runs
// it on a cron schedule:
//
//	store, _ := archive.NewSQLiteStore(archive.DefaultSQLiteConfig())
//	pruner := archive.NewPruner(store, &archive.RetentionConfig{RetentionDays: 30, PruneSchedule: "0 3 * * *"})
//	_ = pruner.Scheduler().Start(ctx)
//
// Records can be exported as JSON or CSV with ExportJSON and ExportCSV.
package archive
