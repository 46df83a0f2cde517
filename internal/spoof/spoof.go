package spoof

import (
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/example/facegate/internal/imaging"
)

// Photo-of-a-photo captures tend to be flat: recompression and screen or
// paper reproduction smooth out pixel variance and natural edge detail.
// The gate measures both on a downscaled luminance plane and rejects
// captures below either floor.
const (
	analysisSize          = 256
	defaultMinVariance    = 120.0
	defaultMinEdgeDensity = 0.015
	gradientEdgeThreshold = 25.0
)

// Gate is a conservative single-image liveness heuristic run before any
// embedding work. It is side-effect free and fails closed: input that cannot
// be decoded is reported as not live.
type Gate struct {
	minVariance    float64
	minEdgeDensity float64
	logger         *zap.Logger
}

// NewGate builds a gate with the default thresholds.
func NewGate(logger *zap.Logger) *Gate {
	return &Gate{
		minVariance:    defaultMinVariance,
		minEdgeDensity: defaultMinEdgeDensity,
		logger:         logger.Named("spoof_gate"),
	}
}

// IsLive reports whether the capture looks like a live scene rather than a
// reproduction. Unreadable input is never live.
func (g *Gate) IsLive(data []byte) bool {
	img, err := imaging.Decode(data)
	if err != nil {
		g.logger.Warn("unreadable capture, failing closed", zap.Error(err))
		return false
	}

	gray := imaging.Grayscale(img, analysisSize)
	variance := grayVariance(gray)
	edges := edgeDensity(gray)

	live := variance >= g.minVariance && edges >= g.minEdgeDensity
	g.logger.Debug("liveness check",
		zap.Float64("variance", variance),
		zap.Float64("edge_density", edges),
		zap.Bool("live", live),
	)
	return live
}

// grayVariance computes the variance of pixel intensities.
func grayVariance(img *image.Gray) float64 {
	bounds := img.Bounds()

	var sum, sumSq float64
	count := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := float64(img.GrayAt(x, y).Y)
			sum += v
			sumSq += v * v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	mean := sum / float64(count)
	return sumSq/float64(count) - mean*mean
}

// edgeDensity computes the share of pixels whose Sobel-style gradient
// magnitude exceeds a fixed threshold.
func edgeDensity(img *image.Gray) float64 {
	bounds := img.Bounds()
	if bounds.Dx() < 3 || bounds.Dy() < 3 {
		return 0
	}

	edgeCount := 0
	total := 0
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			gx := float64(img.GrayAt(x+1, y).Y) - float64(img.GrayAt(x-1, y).Y)
			gy := float64(img.GrayAt(x, y+1).Y) - float64(img.GrayAt(x, y-1).Y)
			if math.Sqrt(gx*gx+gy*gy) > gradientEdgeThreshold {
				edgeCount++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(edgeCount) / float64(total)
}
