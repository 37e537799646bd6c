package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDisplayName(t *testing.T) {
	t.Run("trims whitespace", func(t *testing.T) {
		name, err := ValidateDisplayName("  Alice  ")
		require.NoError(t, err)
		require.Equal(t, "Alice", name)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := ValidateDisplayName("   ")
		require.Error(t, err)
	})

	t.Run("rejects invalid utf8", func(t *testing.T) {
		_, err := ValidateDisplayName("Ali\xffce")
		require.Error(t, err)
	})

	t.Run("rejects over-long names", func(t *testing.T) {
		_, err := ValidateDisplayName(strings.Repeat("a", MaxDisplayNameLen+1))
		require.Error(t, err)

		name, err := ValidateDisplayName(strings.Repeat("a", MaxDisplayNameLen))
		require.NoError(t, err)
		require.Len(t, name, MaxDisplayNameLen)
	})
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer[int](3)
	require.Zero(t, rb.Len())

	rb.Push(1)
	rb.Push(2)
	require.Equal(t, []int{1, 2}, rb.Snapshot())

	t.Run("overwrites oldest when full", func(t *testing.T) {
		rb.Push(3)
		rb.Push(4)
		require.Equal(t, 3, rb.Len())
		require.Equal(t, []int{2, 3, 4}, rb.Snapshot())
	})
}
