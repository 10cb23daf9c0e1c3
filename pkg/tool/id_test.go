package tool

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDV7(t *testing.T) {
	id, err := uuid.Parse(GenerateUUIDV7())
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), id.Version())
}

func TestDigits(t *testing.T) {
	require.Equal(t, "0190123", Digits("0190-12ab-3"))
	require.Equal(t, "", Digits("abc"))
}

func TestHashString_Stable(t *testing.T) {
	require.Equal(t, HashString("12345"), HashString("12345"))
	require.NotEqual(t, HashString("12345"), HashString("12346"))
}
