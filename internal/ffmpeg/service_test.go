package ffmpeg

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDimensionsKnownPairs(t *testing.T) {
	w, h := Dimensions("9:16", "1080p")
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1920, h)

	w, h = Dimensions("16:9", "720p")
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
}

func TestDimensionsUnknownPairDefaultsToPortrait1080p(t *testing.T) {
	w, h := Dimensions("bogus", "format")
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1920, h)
}

func TestDbToLinearZeroIsUnity(t *testing.T) {
	assert.InDelta(t, 1.0, dbToLinear(0), 1e-9)
}

func TestDbToLinearNegativeTwelveMatchesKnownRatio(t *testing.T) {
	got := dbToLinear(-12)
	want := math.Pow(10, -12.0/20)
	assert.InDelta(t, want, got, 1e-9)
	assert.Less(t, got, 1.0)
}

func TestBuildDuckExpressionCombinesWindowsWithOr(t *testing.T) {
	expr := buildDuckExpression([]DuckWindow{{StartS: 1, EndS: 2}, {StartS: 5, EndS: 6}}, -12)
	assert.Contains(t, expr, "between(t,1.000,2.000)")
	assert.Contains(t, expr, "between(t,5.000,6.000)")
	assert.Contains(t, expr, "+")
}

func TestBuildDuckExpressionSingleWindow(t *testing.T) {
	expr := buildDuckExpression([]DuckWindow{{StartS: 0, EndS: 3}}, -6)
	assert.True(t, len(expr) > 0)
	assert.Contains(t, expr, "if(between(t,0.000,3.000)")
}
