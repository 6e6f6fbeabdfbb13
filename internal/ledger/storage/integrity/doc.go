// Package integrity provides HMAC signing for committed incident digests.
//
// Why this package exists:
// - A hash chain proves internal consistency, not provenance; anyone who can
//   rewrite the table can rewrite the chain. Signing each digest with a key
//   the database never holds closes that gap.
// - Keys are derived per tenant, so one family's export reveals nothing that
//   helps forge another family's chain.
// - Key ids travel with each record, allowing rotation without re-signing
//   history.
package integrity
