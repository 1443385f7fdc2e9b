package generator

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/scheduler"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/tariff"
)

const maxDimension = 1024

// Placeholder renders deterministic gradient images so the whole pipeline
// runs without accelerators. Production deployments inject a real model
// runner instead; the scheduler only sees the Executor interface.
type Placeholder struct {
	// RenderDelay simulates per-tier generation time; zero renders
	// immediately (tests).
	RenderDelay time.Duration
}

// NewPlaceholder returns the dev executor with a small simulated delay.
func NewPlaceholder() *Placeholder {
	return &Placeholder{RenderDelay: 2 * time.Second}
}

func (p *Placeholder) Generate(ctx context.Context, job *models.GenerationJob, slot int) (*scheduler.GeneratedImage, error) {
	if p.RenderDelay > 0 {
		delay := p.RenderDelay * time.Duration(tariff.CreditCost(tariff.QualityTier(job.QualityTier)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w, h := parseSize(job.ImageSize)
	img := renderGradient(job.Prompt, job.Style, w, h)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder for job %s: %w", job.JobUUID, err)
	}
	return &scheduler.GeneratedImage{Data: buf.Bytes(), ContentType: "image/png"}, nil
}

func parseSize(raw string) (int, int) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(raw)), "x", 2)
	if len(parts) != 2 {
		return 1024, 1024
	}
	w, werr := strconv.Atoi(parts[0])
	h, herr := strconv.Atoi(parts[1])
	if werr != nil || herr != nil || w <= 0 || h <= 0 {
		return 1024, 1024
	}
	if w > maxDimension {
		w = maxDimension
	}
	if h > maxDimension {
		h = maxDimension
	}
	return w, h
}

// renderGradient derives two corner colors from the prompt and style and
// interpolates between them. Same input, same image.
func renderGradient(prompt, style string, w, h int) *image.NRGBA {
	seed := fnv.New64a()
	seed.Write([]byte(prompt))
	seed.Write([]byte{0})
	seed.Write([]byte(style))
	sum := seed.Sum64()

	from := color.NRGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}
	to := color.NRGBA{R: uint8(sum >> 24), G: uint8(sum >> 32), B: uint8(sum >> 40), A: 255}

	img := imaging.New(w, h, color.NRGBA{A: 255})
	span := float64(w + h - 2)
	if span <= 0 {
		span = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t := float64(x+y) / span
			img.SetNRGBA(x, y, lerp(from, to, t))
		}
	}
	// A slight blur makes the banding look intentional.
	return imaging.Blur(img, 1.5)
}

func lerp(a, b color.NRGBA, t float64) color.NRGBA {
	return color.NRGBA{
		R: uint8(float64(a.R) + (float64(b.R)-float64(a.R))*t),
		G: uint8(float64(a.G) + (float64(b.G)-float64(a.G))*t),
		B: uint8(float64(a.B) + (float64(b.B)-float64(a.B))*t),
		A: 255,
	}
}
