package generator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
)

func testJob(prompt, size string) *models.GenerationJob {
	return &models.GenerationJob{
		JobUUID:     "test-job",
		Prompt:      prompt,
		Style:       "realism",
		QualityTier: "standard",
		ImageSize:   size,
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	p := &Placeholder{}

	a, err := p.Generate(context.Background(), testJob("a red fox", "64x64"), 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := p.Generate(context.Background(), testJob("a red fox", "64x64"), 1)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatal("same prompt must render the same image")
	}

	c, err := p.Generate(context.Background(), testJob("a blue fox", "64x64"), 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if bytes.Equal(a.Data, c.Data) {
		t.Fatal("different prompts must render different images")
	}

	if a.ContentType != "image/png" {
		t.Fatalf("content type = %q", a.ContentType)
	}
	if len(a.Data) == 0 {
		t.Fatal("empty image payload")
	}
}

func TestGenerateRespectsContext(t *testing.T) {
	p := &Placeholder{RenderDelay: time.Minute}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Generate(ctx, testJob("a red fox", "64x64"), 0)
	if err == nil {
		t.Fatal("expected a context error")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		w, h int
	}{
		{"512x512", 512, 512},
		{"1024X768", 1024, 768},
		{"4096x4096", 1024, 1024},
		{"", 1024, 1024},
		{"bogus", 1024, 1024},
		{"0x100", 1024, 1024},
	}
	for _, tt := range tests {
		w, h := parseSize(tt.in)
		if w != tt.w || h != tt.h {
			t.Fatalf("parseSize(%q) = %dx%d, want %dx%d", tt.in, w, h, tt.w, tt.h)
		}
	}
}
