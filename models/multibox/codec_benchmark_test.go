package multibox

import (
	"math/rand"
	"testing"

	"github.com/nvr-ai/go-multibox/images"
)

func benchConfig() Config {
	cfg := DefaultConfig()
	cfg.NClass = 36
	return cfg
}

// fiveGlyphs is a typical captcha annotation: five glyphs left to right.
func fiveGlyphs() GroundTruth {
	gt := GroundTruth{}
	for i := 0; i < 5; i++ {
		x0 := 8 + float64(i)*31
		gt.Boxes = append(gt.Boxes, images.Rect{Y0: 14, X0: x0, Y1: 40, X1: x0 + 20})
		gt.Labels = append(gt.Labels, i*7)
	}
	return gt
}

func BenchmarkNewDefaultBoxes(b *testing.B) {
	cfg := benchConfig()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := NewDefaultBoxes(cfg); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncode(b *testing.B) {
	cfg := benchConfig()
	boxes, err := NewDefaultBoxes(cfg)
	if err != nil {
		b.Fatal(err)
	}
	enc, err := NewEncoder(boxes, cfg.MatchThreshold)
	if err != nil {
		b.Fatal(err)
	}
	gt := fiveGlyphs()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := enc.Encode(gt); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDecode uses noisy logits so that many candidates survive the
// score threshold and reach suppression.
func BenchmarkDecode(b *testing.B) {
	cfg := benchConfig()
	boxes, err := NewDefaultBoxes(cfg)
	if err != nil {
		b.Fatal(err)
	}
	dec, err := NewDecoder(boxes, cfg)
	if err != nil {
		b.Fatal(err)
	}

	r := rand.New(rand.NewSource(1))
	n, k := boxes.Len(), cfg.NClass+1
	loc := make([]float32, n*4)
	conf := make([]float32, n*k)
	for i := range loc {
		loc[i] = float32(r.NormFloat64())
	}
	for i := range conf {
		conf[i] = float32(r.NormFloat64() * 3)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dec.Decode(loc, conf); err != nil {
			b.Fatal(err)
		}
	}
}
