package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "VCS123"})
	require.NoError(t, err)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, "VCS123", decoded.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("not base64 at all!")
	require.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	extract := func(s string) Cursor { return Cursor{ID: s} }

	full := []string{"a", "b", "c", "d"}
	page, info, err := BuildCursorPageInfo(full, 3, extract)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextPageToken)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	require.Equal(t, "c", cursor.ID)

	last := []string{"x"}
	page, info, err = BuildCursorPageInfo(last, 3, extract)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextPageToken)
}
