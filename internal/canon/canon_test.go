package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	B int    `json:"b"`
	A string `json:"a"`
}

func TestEncodeSortsKeys(t *testing.T) {
	out, err := Encode(doc{B: 2, A: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2}`, string(out))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original, err := Encode(doc{B: 7, A: "hello"})
	require.NoError(t, err)

	var got doc
	require.NoError(t, Decode(original, &got))

	reEncoded, err := Encode(got)
	require.NoError(t, err)
	assert.Equal(t, original, reEncoded)
}

func TestHashBytesDeterministic(t *testing.T) {
	h1 := HashBytes([]byte("hello world"))
	h2 := HashBytes([]byte("hello world"))
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashBytesDiffers(t *testing.T) {
	assert.NotEqual(t, HashBytes([]byte("a")), HashBytes([]byte("b")))
}

func TestHashFirst8(t *testing.T) {
	full := HashBytes([]byte("payload"))
	assert.Equal(t, full[:8], HashFirst8([]byte("payload")))
}

func TestNormalizeLineEndings(t *testing.T) {
	assert.Equal(t, []byte("a\nb\nc\n"), NormalizeLineEndings([]byte("a\r\nb\rc\n")))
}

func TestHashArtifactCrossPlatform(t *testing.T) {
	unix := []byte("line1\nline2\n")
	windows := []byte("line1\r\nline2\r\n")
	assert.Equal(t, HashArtifact(unix), HashArtifact(windows))
}

func TestHashCanonical(t *testing.T) {
	h, err := HashCanonical(doc{A: "z", B: 1})
	require.NoError(t, err)
	assert.Len(t, h, 64)
}
