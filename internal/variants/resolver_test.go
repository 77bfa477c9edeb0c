package variants

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeAndResolve(t *testing.T) {
	m, err := Merge(
		Table{Source: "une_12ch.xlsx", Entries: []Entry{{Key: "PR1", Dataset: "DS_A.zip"}, {Key: "PR2", Dataset: "DS_B.zip"}}},
		Table{Source: "une_8ch.xlsx", Entries: []Entry{{Key: "PR3", Dataset: "DS_C.zip"}}},
	)
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())
	require.Equal(t, []string{"PR1", "PR2", "PR3"}, m.Variants())
	require.Equal(t, "une_8ch.xlsx", m.Source("PR3"))

	dataset, err := m.Resolve("PR2")
	require.NoError(t, err)
	require.Equal(t, "DS_B.zip", dataset)
}

func TestMergeDuplicateKeyNamesBothSources(t *testing.T) {
	_, err := Merge(
		Table{Source: "source1", Entries: []Entry{{Key: "PR1", Dataset: "DS_A"}}},
		Table{Source: "source2", Entries: []Entry{{Key: "PR1", Dataset: "DS_B"}}},
	)
	require.ErrorIs(t, err, ErrDuplicateVariantKey)

	var dup *DuplicateVariantKeyError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "PR1", dup.Key)
	require.Equal(t, []string{"source1", "source2"}, dup.Sources)
}

func TestMergeDuplicateWithinOneSource(t *testing.T) {
	_, err := Merge(Table{Source: "s", Entries: []Entry{{Key: "PR1", Dataset: "A"}, {Key: "PR1", Dataset: "A"}}})
	require.ErrorIs(t, err, ErrDuplicateVariantKey)
}

func TestMergeEmpty(t *testing.T) {
	_, err := Merge()
	require.ErrorIs(t, err, ErrEmptyVariantMap)

	_, err = Merge(Table{Source: "blank", Entries: []Entry{{Key: "  ", Dataset: "x"}}})
	require.ErrorIs(t, err, ErrEmptyVariantMap)
}

func TestResolveUnknown(t *testing.T) {
	m, err := Merge(Table{Source: "s", Entries: []Entry{{Key: "PR1", Dataset: "A"}}})
	require.NoError(t, err)

	_, err = m.Resolve("PR9")
	require.ErrorIs(t, err, ErrUnknownVariant)

	var unknown *UnknownVariantError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "PR9", unknown.Key)
}
