package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLabels_DefaultOrder(t *testing.T) {
	t.Parallel()

	labels, bad, ok := ParseLabels(nil)
	assert.True(t, ok)
	assert.Empty(t, bad)
	assert.Equal(t, []AccountLabel{LabelPersonal, LabelProcorePrivate, LabelProcoreMain}, labels)

	// The returned slice must not alias the package default.
	labels[0] = "mutated"
	assert.Equal(t, LabelPersonal, DefaultScanOrder[0])
}

func TestParseLabels_Dedup(t *testing.T) {
	t.Parallel()

	labels, _, ok := ParseLabels([]string{"procore-main", "personal", "procore-main"})
	assert.True(t, ok)
	assert.Equal(t, []AccountLabel{LabelProcoreMain, LabelPersonal}, labels)
}

func TestParseLabels_Unknown(t *testing.T) {
	t.Parallel()

	labels, bad, ok := ParseLabels([]string{"personal", "work"})
	assert.False(t, ok)
	assert.Equal(t, "work", bad)
	assert.Nil(t, labels)
}

func TestContactDisplayName(t *testing.T) {
	t.Parallel()

	name := "Ada"
	empty := ""
	assert.Equal(t, "Ada", Contact{Email: "ada@x.com", Name: &name}.DisplayName())
	assert.Equal(t, "ada@x.com", Contact{Email: "ada@x.com", Name: &empty}.DisplayName())
	assert.Equal(t, "ada@x.com", Contact{Email: "ada@x.com"}.DisplayName())
}

func TestTruncateSummary(t *testing.T) {
	t.Parallel()

	short := "hello"
	assert.Equal(t, short, TruncateSummary(short))

	long := make([]rune, 0, 600)
	for range 600 {
		long = append(long, 'é')
	}
	got := TruncateSummary(string(long))
	assert.Len(t, []rune(got), MaxSummaryRunes)
}
