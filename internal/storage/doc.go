// Package storage persists per-tenant JSON documents.
//
// Each tenant owns one document. Callers address nodes inside it with a Path
// (["messages", authorID, jobID]). Every mutation is an atomic
// read-modify-write of the whole tenant document, so concurrent writers to
// the same tenant never interleave.
//
// Drivers:
//   - "memory": process-local map (tests, ephemeral runs)
//   - "file":   one JSON file per tenant, replaced atomically (tmp + rename)
//   - "sqlite": documents table in a SQLite database (modernc.org/sqlite)
//   - "redis":  one key per tenant plus a tenant index set (WATCH/MULTI)
package storage
