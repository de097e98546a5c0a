/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSidebarState(t *testing.T) {
	var s sidebarState
	require.Equal(t, sidebarWidth, s.width())

	t.Run("collapse toggles", func(t *testing.T) {
		s.toggleCollapse()
		require.Zero(t, s.width())
		s.toggleCollapse()
		require.Equal(t, sidebarWidth, s.width())
	})

	t.Run("pinning reopens and blocks collapse", func(t *testing.T) {
		s.toggleCollapse()
		require.Zero(t, s.width())

		s.togglePin()
		require.True(t, s.pinned)
		require.Equal(t, sidebarWidth, s.width())

		s.toggleCollapse()
		require.Equal(t, sidebarWidth, s.width())
	})

	t.Run("unpinning allows collapse again", func(t *testing.T) {
		s.togglePin()
		require.False(t, s.pinned)
		s.toggleCollapse()
		require.Zero(t, s.width())
	})
}
