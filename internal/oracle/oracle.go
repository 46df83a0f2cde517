package oracle

import "context"

// Detection describes one face found in an image.
type Detection struct {
	// Box holds the facial area as x, y, width, height.
	Box        [4]int
	Confidence float64
}

// Comparison is the outcome of a pairwise face comparison. Distance is a
// non-negative metric where smaller means more similar.
type Comparison struct {
	Verified bool
	Distance float64
}

// Options tunes a pairwise comparison. When RelaxedDetection is set the
// oracle must attempt a best-effort comparison even if no face is cleanly
// detected, instead of failing.
type Options struct {
	Model            string
	Backend          string
	RelaxedDetection bool
}

// Client exposes the subset of the embedding service used by the
// verification flow.
type Client interface {
	DetectFaces(ctx context.Context, image []byte, backend string) ([]Detection, error)
	Compare(ctx context.Context, probe, reference []byte, opts Options) (*Comparison, error)
}
