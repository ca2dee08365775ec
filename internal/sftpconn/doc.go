// Package sftpconn pools SFTP connections per (host, port, username).
//
// A Manager deduplicates concurrent connects for the same key, checks a
// pooled transport is still open before reuse, verifies host keys through
// the configured trust policy, retries transient failures with backoff,
// caches created remote directories and reaps connections that sit idle.
// One Manager owns all of that state; Dispose tears it down.
package sftpconn
