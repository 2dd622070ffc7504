package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitArtistsScenario2(t *testing.T) {
	got := SplitArtists("The Beatles & John x Yoko / feat. Paul")
	require.Equal(t, []string{"The Beatles", "John", "Yoko", "feat. Paul"}, got)
}

func TestSplitArtistsWhitelistFoldsCommaAndAmpersand(t *testing.T) {
	got := SplitArtists("Earth, Wind & Fire")
	require.Equal(t, []string{"Earth, Wind & Fire"}, got)
}

func TestSplitArtistsSingleName(t *testing.T) {
	require.Equal(t, []string{"Radiohead"}, SplitArtists("Radiohead"))
}

func TestSplitArtistsEmpty(t *testing.T) {
	require.Nil(t, SplitArtists(""))
	require.Nil(t, SplitArtists("   "))
}

func TestSplitArtistsSemicolon(t *testing.T) {
	require.Equal(t, []string{"A", "B"}, SplitArtists("A; B"))
}
