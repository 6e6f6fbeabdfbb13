// Package sqlite implements the incident ledger store on SQLite.
//
// Each tenant's records form an append-only chain. The schema enforces the
// chain shape with a (tenant_id, sequence) primary key and a unique
// (tenant_id, previous_digest) index, so concurrent appends against the same
// tip cannot both commit.
package sqlite
