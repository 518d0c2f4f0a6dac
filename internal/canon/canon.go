// Package canon implements RFC 8785 (JSON Canonicalization Scheme) encoding
// and BLAKE3 content hashing, the substrate every receipt and artifact hash
// in the pipeline is built on.
package canon

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
	"lukechampine.com/blake3"
)

// Backend identifies the canonicalization algorithm, recorded verbatim in
// every receipt's canonicalization_backend field.
const Backend = "jcs-rfc8785"

// Encode serializes v to byte-identical canonical JSON: standard
// encoding/json marshal followed by the RFC 8785 JCS transform (sorted
// object keys, normalized number/string forms). Any observable-order slice
// fields on v (artifact lists, output lists, check lists) must already be
// sorted by the caller by a stable key before calling Encode — JCS sorts
// object keys, not array elements.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canon: jcs transform: %w", err)
	}
	return out, nil
}

// Decode parses canonical JSON bytes into v. Encode(Decode(bytes)) must
// reproduce bytes exactly for any document produced by Encode.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("canon: unmarshal: %w", err)
	}
	return nil
}

// HashBytes computes a BLAKE3 digest over data and returns the first 64 hex
// characters, the canonical blake3_canonicalized form used throughout
// receipts and artifact hashes.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	full := hex.EncodeToString(sum[:])
	return firstN(full, 64)
}

// HashFirst8 returns the first 8 hex characters of the BLAKE3 digest of
// data, the packet-evidence "blake3_first8" form.
func HashFirst8(data []byte) string {
	return firstN(HashBytes(data), 8)
}

// HashCanonical encodes v as canonical JSON and returns its BLAKE3 hash.
func HashCanonical(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// NormalizeLineEndings converts CRLF and lone CR line terminators to LF, the
// normalization every artifact's on-disk bytes undergo before hashing so
// hashes match across platforms.
func NormalizeLineEndings(data []byte) []byte {
	s := string(data)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return []byte(s)
}

// HashArtifact normalizes data's line endings and returns its BLAKE3 hash,
// the form recorded as an artifact's blake3_canonicalized value.
func HashArtifact(data []byte) string {
	return HashBytes(NormalizeLineEndings(data))
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
