// Package transferlog keeps a durable record of every transfer operation the
// service runs (upload, download, delete, list) together with its outcome,
// size and duration.
//
// Records live in the transfer_records table of the application database.
// Query filters by server key, operation and time range with limit/offset
// pagination (default 50, maximum 1000 rows). Old records are removed by
// PurgeOlderThan, which StartPurgeSchedule runs once a day.
package transferlog
