package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseURLArg_Single(t *testing.T) {
	primary, mirrors := parseURLArg("http://example.com/a")
	require.Equal(t, "http://example.com/a", primary)
	require.Equal(t, []string{"http://example.com/a"}, mirrors)
}

func TestParseURLArg_MultipleMirrors(t *testing.T) {
	primary, mirrors := parseURLArg("http://a.example.com/f, http://b.example.com/f ,http://c.example.com/f")
	require.Equal(t, "http://a.example.com/f", primary)
	require.Equal(t, []string{
		"http://a.example.com/f",
		"http://b.example.com/f",
		"http://c.example.com/f",
	}, mirrors)
}

func TestParseURLArg_Empty(t *testing.T) {
	primary, mirrors := parseURLArg("")
	require.Empty(t, primary)
	require.Nil(t, mirrors)
}
