package incident

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
	"unicode/utf8"

	apperrors "github.com/tandemfamily/tandem/internal/platform/errors"
)

// DigestSentinel is the previous-digest value of the first record in a chain.
const DigestSentinel = "0"

// envelopeVersion tags the canonical encoding so the layout can evolve
// without silently re-verifying old records against a new format.
const envelopeVersion = 0x01

// Digest computes the hex SHA-256 digest that chains a record to its
// predecessor: SHA-256(previous_digest || canonical_envelope(record)).
//
// The envelope covers the author, the evidentiary content, and the append
// timestamp; it excludes Sequence (assigned by storage after the digest is
// computed) and all digest/signature fields.
func Digest(previousDigest string, rec Record) (string, error) {
	env, err := canonicalEnvelope(rec)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(previousDigest))
	h.Write(env)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalEnvelope renders the record's immutable fields as a deterministic
// byte string. Every variable-length field is length-prefixed, so no crafted
// field value can imitate another field boundary.
func canonicalEnvelope(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(envelopeVersion)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"author_id", rec.AuthorID},
		{"title", rec.Title},
		{"description", rec.Description},
		{"severity", string(rec.Severity)},
		{"location", rec.Location},
	} {
		if err := writeString(&buf, field.name, field.value); err != nil {
			return nil, err
		}
	}

	writeTime(&buf, rec.OccurredAt)

	writeUint32(&buf, uint32(len(rec.Witnesses)))
	for _, w := range rec.Witnesses {
		if err := writeString(&buf, "witness", w); err != nil {
			return nil, err
		}
	}

	writeTime(&buf, rec.CreatedAt)

	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, name, value string) error {
	if !utf8.ValidString(value) {
		return apperrors.WithMetadata(apperrors.CodeIncidentEncodingInvalid,
			"field is not valid UTF-8", map[string]string{"field": name})
	}
	writeUint32(buf, uint32(len(value)))
	buf.WriteString(value)
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeTime(buf *bytes.Buffer, t time.Time) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UTC().UnixMilli()))
	buf.Write(b[:])
}
