package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareOrdering(t *testing.T) {
	ordered := []string{
		"1.0-alpha1",
		"1.0-beta",
		"1.0-m2",
		"1.0-rc1",
		"1.0-SNAPSHOT",
		"1.0",
		"1.0-sp1",
		"1.0-jre",
		"1.0.1",
		"1.1",
		"1.2",
		"1.10",
		"2.0.0-RC1",
		"2",
	}
	for i := 0; i < len(ordered)-1; i++ {
		assert.Equal(t, -1, Compare(ordered[i], ordered[i+1]), "%s < %s", ordered[i], ordered[i+1])
		assert.Equal(t, 1, Compare(ordered[i+1], ordered[i]), "%s > %s", ordered[i+1], ordered[i])
	}
}

func TestCompareEquivalences(t *testing.T) {
	assert.Equal(t, 0, Compare("1.0", "1"))
	assert.Equal(t, 0, Compare("1.0.0", "1"))
	assert.Equal(t, 0, Compare("1.0-final", "1.0"))
	assert.Equal(t, 0, Compare("1.0-GA", "1.0.0"))
	assert.Equal(t, 0, Compare("1.0-cr1", "1.0-rc1"))
	assert.Equal(t, 0, Compare("01.2", "1.2"))
}

func TestMax(t *testing.T) {
	assert.Equal(t, "1.2", Max("1.0", "1.2", "1.1"))
	assert.Equal(t, "33.0.0-jre", Max("32.1.3-jre", "33.0.0-jre", "33.0.0-android"))
	assert.Equal(t, "", Max())
}

func TestSingleVersionRange(t *testing.T) {
	assert.Equal(t, "1.2", FromSingleVersionRange("[1.2]"))
	assert.Equal(t, "[1.2,2.0)", FromSingleVersionRange("[1.2,2.0)"))
	assert.Equal(t, "1.2", FromSingleVersionRange("1.2"))
}

func TestIsSnapshot(t *testing.T) {
	assert.True(t, IsSnapshot("1.0-SNAPSHOT"))
	assert.False(t, IsSnapshot("1.0"))
}
