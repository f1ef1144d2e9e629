package studio

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func pngDataURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(4, 3, color.NRGBA{R: 255, A: 255})); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestParseParamsDefaults(t *testing.T) {
	p, err := ParseParams(map[string]any{"prompt": "cat"})
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	want := DefaultParams()
	want.Prompt = "cat"
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("defaults (-want +got):\n%s", diff)
	}
}

func TestParseParamsCoercesNumbers(t *testing.T) {
	var m map[string]any
	dec := json.NewDecoder(strings.NewReader(`{"num_steps": 30, "guidance_scale": "7.5", "w": 512, "h": "640",
		"input_seed": 12345678901, "offset": [1, 2, 3, 4], "infer_size": "true"}`))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, err := ParseParams(m)
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if p.NumSteps != 30 || p.GuidanceScale != 7.5 || p.W != 512 || p.H != 640 {
		t.Fatalf("numbers: %+v", p)
	}
	if p.InputSeed != 12345678901 {
		t.Fatalf("seed %d", p.InputSeed)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, p.Offset); diff != "" {
		t.Fatalf("offset (-want +got):\n%s", diff)
	}
	if !p.InferSize {
		t.Fatalf("infer_size not parsed")
	}
}

func TestParseParamsImages(t *testing.T) {
	p, err := ParseParams(map[string]any{"init_image": pngDataURL(t), "image_mask": pngDataURL(t)})
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if p.InitImage == nil || p.InitImage.Bounds().Dx() != 4 || p.ImageMask == nil {
		t.Fatalf("images not decoded")
	}
	if _, err := ParseParams(map[string]any{"init_image": "not base64!"}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
}

func TestParseParamsMix(t *testing.T) {
	p, err := ParseParams(map[string]any{
		"image_1":  pngDataURL(t),
		"text_1":   "ignored",
		"text_2":   "a castle",
		"weight_2": 0.3,
	})
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if len(p.Mix) != 2 {
		t.Fatalf("mix entries=%d", len(p.Mix))
	}
	if p.Mix[0].Image == nil || p.Mix[0].Text != "" || p.Mix[0].Weight != 0.5 {
		t.Fatalf("entry 1: image should win over text, weight default 0.5: %+v", p.Mix[0])
	}
	if p.Mix[1].Text != "a castle" || p.Mix[1].Weight != 0.3 {
		t.Fatalf("entry 2: %+v", p.Mix[1])
	}

	p, err = ParseParams(map[string]any{"mix_image_count": 3, "text_3": "third"})
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if len(p.Mix) != 1 || p.Mix[0].Text != "third" {
		t.Fatalf("mix_image_count: %+v", p.Mix)
	}
}

func TestParseParamsRejects(t *testing.T) {
	cases := []map[string]any{
		{"num_steps": 0},
		{"num_steps": 2.5},
		{"w": -8},
		{"input_seed": -5},
		{"strength": 1.5},
		{"region": "everywhere"},
		{"batch_count": "many"},
	}
	for _, m := range cases {
		if _, err := ParseParams(m); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("%v: expected invalid params, got %v", m, err)
		}
	}
}

func TestSummaryOmitsImageBytes(t *testing.T) {
	p, err := ParseParams(map[string]any{"prompt": "x", "init_image": pngDataURL(t)})
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(p.Summary()), &got); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if got["init_image"] != "4x3" || got["prompt"] != "x" {
		t.Fatalf("summary %v", got)
	}
}
