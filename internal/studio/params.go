package studio

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	"diffstudio/internal/imaging"
	"diffstudio/internal/pipeline"
)

// ErrInvalidParams is returned when the parameter map cannot be interpreted.
var ErrInvalidParams = errors.New("invalid parameters")

// Params is the typed form of the flat parameter map.
type Params struct {
	Prompt              string
	NegativePrompt      string
	NegativePriorPrompt string
	NumSteps            int
	GuidanceScale       float64
	BatchSize           int
	BatchCount          int
	W, H                int
	Sampler             string
	PriorCFScale        float64
	PriorSteps          int
	// InputSeed -1 requests a fresh random seed.
	InputSeed int64
	Eta       float64

	InitImage image.Image
	Strength  float64
	ImageMask image.Image
	Region    imaging.Region
	Target    imaging.Target
	Offset    []int
	InferSize bool

	Mix []pipeline.WeightedCondition
}

// DefaultParams returns the values used for keys absent from the map.
func DefaultParams() Params {
	return Params{
		NumSteps:      50,
		GuidanceScale: 4,
		BatchSize:     1,
		BatchCount:    1,
		W:             768,
		H:             768,
		Sampler:       "p_sampler",
		PriorCFScale:  4,
		PriorSteps:    5,
		InputSeed:     -1,
		Eta:           1,
		Strength:      0.7,
		Region:        imaging.RegionWhole,
		Target:        imaging.TargetOnlyMask,
	}
}

// ParseParams converts a flat key-value map (as decoded from JSON or built
// by a UI) into Params. Images may be image.Image values or base64 strings
// (optionally data URLs). Unknown keys are ignored.
func ParseParams(m map[string]any) (Params, error) {
	p := DefaultParams()
	var errs []error
	str := func(k string, dst *string) {
		if v, ok := m[k]; ok && v != nil {
			*dst = fmt.Sprint(v)
		}
	}
	integer := func(k string, dst *int) {
		if v, ok := m[k]; ok && v != nil {
			n, err := toInt(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = int(n)
		}
	}
	float := func(k string, dst *float64) {
		if v, ok := m[k]; ok && v != nil {
			f, err := toFloat(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = f
		}
	}
	img := func(k string) image.Image {
		v, ok := m[k]
		if !ok || v == nil {
			return nil
		}
		im, err := decodeImage(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
		return im
	}

	str("prompt", &p.Prompt)
	str("negative_prompt", &p.NegativePrompt)
	if p.NegativePrompt == "" {
		str("negative_decoder_prompt", &p.NegativePrompt)
	}
	str("negative_prior_prompt", &p.NegativePriorPrompt)
	integer("num_steps", &p.NumSteps)
	float("guidance_scale", &p.GuidanceScale)
	integer("batch_size", &p.BatchSize)
	integer("batch_count", &p.BatchCount)
	integer("w", &p.W)
	integer("h", &p.H)
	str("sampler", &p.Sampler)
	float("prior_cf_scale", &p.PriorCFScale)
	integer("prior_steps", &p.PriorSteps)
	if v, ok := m["input_seed"]; ok && v != nil {
		n, err := toInt(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("input_seed: %w", err))
		} else {
			p.InputSeed = n
		}
	}
	float("eta", &p.Eta)
	p.InitImage = img("init_image")
	if p.InitImage == nil {
		// Outpainting forms send the source as "image".
		p.InitImage = img("image")
	}
	float("strength", &p.Strength)
	p.ImageMask = img("image_mask")
	var region, target string
	str("region", &region)
	str("target", &target)
	if region != "" {
		p.Region = imaging.Region(region)
	}
	if target != "" {
		p.Target = imaging.Target(target)
	}
	if v, ok := m["offset"]; ok && v != nil {
		off, err := toInts(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("offset: %w", err))
		}
		p.Offset = off
	}
	if v, ok := m["infer_size"]; ok && v != nil {
		b, err := toBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("infer_size: %w", err))
		}
		p.InferSize = b
	}

	count := 0
	if _, ok := m["mix_image_count"]; ok {
		integer("mix_image_count", &count)
	} else if hasMixKeys(m) {
		count = 2
	}
	for i := 1; i <= count; i++ {
		c := pipeline.WeightedCondition{Weight: 0.5}
		c.Image = img(fmt.Sprintf("image_%d", i))
		str(fmt.Sprintf("text_%d", i), &c.Text)
		float(fmt.Sprintf("weight_%d", i), &c.Weight)
		if c.Image == nil && c.Text == "" {
			continue
		}
		// An image takes precedence over the text of the same slot.
		if c.Image != nil {
			c.Text = ""
		}
		p.Mix = append(p.Mix, c)
	}

	if err := errors.Join(errs...); err != nil {
		return Params{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return p, p.validate()
}

func hasMixKeys(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "image_") && k != "image_mask" || strings.HasPrefix(k, "text_") {
			return true
		}
	}
	return false
}

func (p Params) validate() error {
	switch {
	case p.NumSteps <= 0:
		return fmt.Errorf("%w: num_steps must be positive", ErrInvalidParams)
	case p.BatchSize <= 0 || p.BatchCount <= 0:
		return fmt.Errorf("%w: batch_size and batch_count must be positive", ErrInvalidParams)
	case p.W <= 0 || p.H <= 0:
		return fmt.Errorf("%w: w and h must be positive", ErrInvalidParams)
	case p.InputSeed < -1:
		return fmt.Errorf("%w: input_seed must be -1 or non-negative", ErrInvalidParams)
	case p.Strength < 0 || p.Strength > 1:
		return fmt.Errorf("%w: strength must be within [0,1]", ErrInvalidParams)
	case p.Region != imaging.RegionWhole && p.Region != imaging.RegionMask:
		return fmt.Errorf("%w: region must be %q or %q", ErrInvalidParams, imaging.RegionWhole, imaging.RegionMask)
	}
	return nil
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	}
	return false, fmt.Errorf("unsupported type %T", v)
}

func toInts(v any) ([]int, error) {
	switch x := v.(type) {
	case []int:
		return x, nil
	case []any:
		out := make([]int, 0, len(x))
		for _, e := range x {
			n, err := toInt(e)
			if err != nil {
				return nil, err
			}
			out = append(out, int(n))
		}
		return out, nil
	case string:
		var out []int
		for _, s := range strings.Split(x, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

// decodeImage accepts an image.Image or a base64 string, with or without a
// data URL prefix.
func decodeImage(v any) (image.Image, error) {
	switch x := v.(type) {
	case image.Image:
		return x, nil
	case string:
		if x == "" {
			return nil, nil
		}
		if i := strings.Index(x, ";base64,"); i >= 0 && strings.HasPrefix(x, "data:") {
			x = x[i+len(";base64,"):]
		}
		raw, err := base64.StdEncoding.DecodeString(x)
		if err != nil {
			return nil, fmt.Errorf("base64: %w", err)
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("unsupported image type %T", v)
}

// Summary renders the scalar parameters as JSON for history records.
// Images are reduced to their sizes.
func (p Params) Summary() string {
	size := func(img image.Image) string {
		if img == nil {
			return ""
		}
		b := img.Bounds()
		return fmt.Sprintf("%dx%d", b.Dx(), b.Dy())
	}
	mix := make([]map[string]any, 0, len(p.Mix))
	for _, c := range p.Mix {
		mix = append(mix, map[string]any{"text": c.Text, "image": size(c.Image), "weight": c.Weight})
	}
	raw, err := json.Marshal(map[string]any{
		"prompt":                p.Prompt,
		"negative_prompt":       p.NegativePrompt,
		"negative_prior_prompt": p.NegativePriorPrompt,
		"num_steps":             p.NumSteps,
		"guidance_scale":        p.GuidanceScale,
		"batch_size":            p.BatchSize,
		"batch_count":           p.BatchCount,
		"w":                     p.W,
		"h":                     p.H,
		"sampler":               p.Sampler,
		"prior_cf_scale":        p.PriorCFScale,
		"prior_steps":           p.PriorSteps,
		"input_seed":            p.InputSeed,
		"eta":                   p.Eta,
		"init_image":            size(p.InitImage),
		"strength":              p.Strength,
		"image_mask":            size(p.ImageMask),
		"region":                p.Region,
		"target":                p.Target,
		"offset":                p.Offset,
		"infer_size":            p.InferSize,
		"mix":                   mix,
	})
	if err != nil {
		return "{}"
	}
	return string(raw)
}
