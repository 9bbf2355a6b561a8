package tick

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_RoundTrip(t *testing.T) {
	rec := MintAt(fixedNow, "joy", "agent-1", StageDyad, 42, []byte("s3cr3t"))
	ann := map[string]string{"verse": "ii", "realm": "tide"}

	blob, err := EncodePayload(rec, ann)
	require.NoError(t, err)

	got, gotAnn, err := DecodePayload(blob)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, ann, gotAnn)
	assert.True(t, Verify(got, []byte("s3cr3t")), "decoded record keeps a valid MAC")
}

func TestEncodePayload_StableBytes(t *testing.T) {
	rec := MintAt(fixedNow, "joy", "agent-1", StageSeed, 1, nil)

	a, err := EncodePayload(rec, nil)
	require.NoError(t, err)
	b, err := EncodePayload(rec, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, a, b, "empty annotation is omitted")
	assert.Equal(t, Checksum(a), Checksum(b))
	assert.NotContains(t, string(a), "annotation")
	assert.NotContains(t, string(a), "mac")
}

func TestDecodePayload_Malformed(t *testing.T) {
	_, _, err := DecodePayload([]byte("{not json"))
	assert.Error(t, err)

	_, _, err = DecodePayload([]byte(`{"mac":"zz"}`))
	assert.Error(t, err)
}

func TestPayload_RoundTripPreservesNonASCIIIDs(t *testing.T) {
	secret := []byte("s3cr3t")
	rec := MintAt(fixedNow, "café", "agent-ñ", StageSeed, 7, secret)
	require.NoError(t, Validate("café", rec))

	blob, err := EncodePayload(rec, nil)
	require.NoError(t, err)
	got, _, err := DecodePayload(blob)
	require.NoError(t, err)

	assert.Equal(t, rec.MotifID, got.MotifID)
	assert.Equal(t, rec.AgentID, got.AgentID)
	assert.True(t, Verify(got, secret), "MAC covers the persisted spelling")
}

func TestPayload_DecomposedIDIsRejectedBeforePersist(t *testing.T) {
	// A decomposed id would be rewritten by canonical encoding, so the
	// schema check refuses it instead of persisting a different spelling.
	rec := MintAt(fixedNow, "cafe\u0301", "agent-1", StageSeed, 1, []byte("s3cr3t"))
	err := Validate("cafe\u0301", rec)
	require.Error(t, err)
	assert.True(t, IsSchemaError(err))

	blob, err := EncodePayload(rec, nil)
	require.NoError(t, err)
	got, _, err := DecodePayload(blob)
	require.NoError(t, err)
	assert.NotEqual(t, rec.MotifID, got.MotifID)
}
