// Package incident defines the incident record and the canonical digest that
// chains records into a per-family tamper-evident ledger.
//
// Records are immutable facts: once a record is committed its fields never
// change, and its digest binds the evidentiary content to the digest of the
// preceding record. The canonical envelope is defined in one place so the
// writer and the verifier can never drift apart.
package incident
