// Package ffmpeg wraps os/exec invocations of ffmpeg/ffprobe for the
// Composer and the Ken Burns motion fallback,
// adapted from a shelling-out ffmpeg render service.
package ffmpeg

import (
	"fmt"
	"math/rand"
)

// Effect is a Ken Burns motion effect applied to a still image when no
// motion provider produced a clip for a scene.
type Effect string

const (
	EffectZoomIn         Effect = "zoom_in"
	EffectZoomOut        Effect = "zoom_out"
	EffectPanDown        Effect = "pan_down"
	EffectPanUp          Effect = "pan_up"
	EffectPanLeft        Effect = "pan_left"
	EffectPanRight       Effect = "pan_right"
	EffectZoomInPanUp    Effect = "zoom_in_pan_up"
	EffectZoomInPanDown  Effect = "zoom_in_pan_down"
	EffectZoomInPanLeft  Effect = "zoom_in_pan_left"
	EffectZoomInPanRight Effect = "zoom_in_pan_right"
)

var allEffects = []Effect{
	EffectZoomIn, EffectZoomOut, EffectPanDown, EffectPanUp, EffectPanLeft, EffectPanRight,
	EffectZoomInPanUp, EffectZoomInPanDown, EffectZoomInPanLeft, EffectZoomInPanRight,
}

// SeededEffect deterministically picks an effect from a project/scene
// seed instead of global rand, so the fallback is reproducible under
// replay, the same way the rest of the pipeline seeds off
// project.seed + scene.id.
func SeededEffect(seed int64) Effect {
	r := rand.New(rand.NewSource(seed))
	return allEffects[r.Intn(len(allEffects))]
}

const (
	breathAmplitude = 0.03
	breathFrequency = 0.12
)

// buildMotionFilter constructs the zoompan filter chain for effect,
// sized for durationMs at fps, rendering to width x height.
func buildMotionFilter(effect Effect, durationMs, fps, width, height int) string {
	totalFrames := (durationMs * fps / 1000) + fps*2
	if totalFrames < fps {
		totalFrames = fps
	}
	breathExpr := fmt.Sprintf("%.3f*sin(on*%.3f)", breathAmplitude, breathFrequency)

	var zExpr, xExpr, yExpr string
	switch effect {
	case EffectZoomIn:
		zExpr = fmt.Sprintf("1.0+0.5*on/%d+%s", totalFrames, breathExpr)
		xExpr = "iw/2-(iw/zoom/2)"
		yExpr = "ih/2-(ih/zoom/2)"
	case EffectZoomOut:
		zExpr = fmt.Sprintf("1.5-0.5*on/%d+%s", totalFrames, breathExpr)
		xExpr = "iw/2-(iw/zoom/2)"
		yExpr = "ih/2-(ih/zoom/2)"
	case EffectPanDown:
		zExpr = fmt.Sprintf("1.3+%s", breathExpr)
		xExpr = "iw/2-(iw/zoom/2)"
		yExpr = fmt.Sprintf("(ih-ih/zoom)*on/%d", totalFrames)
	case EffectPanUp:
		zExpr = fmt.Sprintf("1.3+%s", breathExpr)
		xExpr = "iw/2-(iw/zoom/2)"
		yExpr = fmt.Sprintf("(ih-ih/zoom)*(1-on/%d)", totalFrames)
	case EffectPanRight:
		zExpr = fmt.Sprintf("1.3+%s", breathExpr)
		xExpr = fmt.Sprintf("(iw-iw/zoom)*on/%d", totalFrames)
		yExpr = "ih/2-(ih/zoom/2)"
	case EffectPanLeft:
		zExpr = fmt.Sprintf("1.3+%s", breathExpr)
		xExpr = fmt.Sprintf("(iw-iw/zoom)*(1-on/%d)", totalFrames)
		yExpr = "ih/2-(ih/zoom/2)"
	case EffectZoomInPanUp:
		zExpr = fmt.Sprintf("1.0+0.4*on/%d+%s", totalFrames, breathExpr)
		xExpr = "iw/2-(iw/zoom/2)"
		yExpr = fmt.Sprintf("max(0,(ih-ih/zoom)*(1-on/%d))", totalFrames)
	case EffectZoomInPanDown:
		zExpr = fmt.Sprintf("1.0+0.4*on/%d+%s", totalFrames, breathExpr)
		xExpr = "iw/2-(iw/zoom/2)"
		yExpr = fmt.Sprintf("min(ih-ih/zoom,(ih-ih/zoom)*on/%d)", totalFrames)
	case EffectZoomInPanRight:
		zExpr = fmt.Sprintf("1.0+0.4*on/%d+%s", totalFrames, breathExpr)
		xExpr = fmt.Sprintf("min(iw-iw/zoom,(iw-iw/zoom)*on/%d)", totalFrames)
		yExpr = "ih/2-(ih/zoom/2)"
	case EffectZoomInPanLeft:
		zExpr = fmt.Sprintf("1.0+0.4*on/%d+%s", totalFrames, breathExpr)
		xExpr = fmt.Sprintf("max(0,(iw-iw/zoom)*(1-on/%d))", totalFrames)
		yExpr = "ih/2-(ih/zoom/2)"
	default:
		zExpr = fmt.Sprintf("1.0+0.4*on/%d+%s", totalFrames, breathExpr)
		xExpr = "iw/2-(iw/zoom/2)"
		yExpr = "ih/2-(ih/zoom/2)"
	}

	return fmt.Sprintf("zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d",
		zExpr, xExpr, yExpr, totalFrames, width, height, fps)
}
