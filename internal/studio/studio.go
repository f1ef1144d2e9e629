// Package studio is the request-level entry point: it resolves the seed,
// prepares task inputs, runs the family's pipeline through the swap cache
// and post-processes the images.
package studio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"diffstudio/internal/imaging"
	"diffstudio/internal/manager"
	"diffstudio/internal/pipeline"
	"diffstudio/pkg/types"
)

// Saver persists a finished batch and returns one location per image. It is
// called once per batch after every batch of the request has been generated,
// so a failed generation saves nothing. A Save error aborts the remaining
// batches; files written by earlier calls are left in place.
type Saver interface {
	Save(ctx context.Context, res Result, images []image.Image) ([]string, error)
}

// Recorder stores a summary of every generation.
type Recorder interface {
	Record(ctx context.Context, e types.HistoryEntry) error
}

// Config wires a Studio.
type Config struct {
	Manager *manager.Manager
	// MinibatchSize caps images per denoiser load in low-VRAM families.
	// Zero runs each batch at once.
	MinibatchSize int
	Saver         Saver
	History       Recorder
	Logger        zerolog.Logger
}

// Result is the outcome of one request.
type Result struct {
	RequestID string
	// Seed is the seed actually used, echoed back for reproduction.
	Seed     int64
	Task     manager.TaskKind
	Family   string
	Images   []image.Image
	Paths    []string
	Duration time.Duration
}

// Studio serves generation requests for one model family.
type Studio struct {
	mgr       *manager.Manager
	minibatch int
	saver     Saver
	history   Recorder
	log       zerolog.Logger
}

// New validates cfg.
func New(cfg Config) (*Studio, error) {
	if cfg.Manager == nil {
		return nil, errors.New("studio: manager is required")
	}
	return &Studio{
		mgr:       cfg.Manager,
		minibatch: cfg.MinibatchSize,
		saver:     cfg.Saver,
		history:   cfg.History,
		log:       cfg.Logger.With().Str("component", "studio").Logger(),
	}, nil
}

// Manager returns the swap cache the studio runs on.
func (s *Studio) Manager() *manager.Manager { return s.mgr }

func (s *Studio) T2I(ctx context.Context, p Params) (Result, error) {
	return s.Generate(ctx, manager.Text2Img, p)
}

func (s *Studio) I2I(ctx context.Context, p Params) (Result, error) {
	return s.Generate(ctx, manager.Img2Img, p)
}

func (s *Studio) Mix(ctx context.Context, p Params) (Result, error) {
	return s.Generate(ctx, manager.Mix, p)
}

func (s *Studio) Inpaint(ctx context.Context, p Params) (Result, error) {
	return s.Generate(ctx, manager.Inpainting, p)
}

func (s *Studio) Outpaint(ctx context.Context, p Params) (Result, error) {
	return s.Generate(ctx, manager.Outpainting, p)
}

// job is a prepared request: the executor input plus its post-processing.
type job struct {
	req  pipeline.Request
	post func(ctx context.Context, imgs []image.Image) ([]image.Image, error)
}

// Generate runs task with p. The family is checked for support before the
// seed is drawn or any input is processed.
func (s *Studio) Generate(ctx context.Context, task manager.TaskKind, p Params) (Result, error) {
	start := time.Now()
	fam := s.mgr.Family()
	res := Result{RequestID: uuid.NewString(), Task: task, Family: fam.Name}
	log := s.log.With().Str("request_id", res.RequestID).Str("task", task.String()).Logger()

	if !fam.Supports(task) {
		return res, manager.ErrUnsupportedTask(fam.Name, task)
	}
	seed, err := ResolveSeed(p.InputSeed)
	if err != nil {
		return res, err
	}
	res.Seed = seed
	log.Info().Str("event", "seed_resolved").Int64("seed", seed).Bool("generated", p.InputSeed < 0).Msg("seed")

	j, err := s.prepare(task, p)
	if err != nil {
		return res, err
	}
	j.req.Rand = newRand(seed)
	j.req.BatchSize = j.req.ImagesNum
	if fam.LowVRAM && s.minibatch > 0 {
		j.req.BatchSize = s.minibatch
	}

	// Shape errors are rejected here, before the cache evicts or builds anything.
	if err := fam.CheckRequest(j.req); err != nil {
		return res, err
	}

	batches := make([][]image.Image, 0, p.BatchCount)
	err = s.mgr.Do(ctx, task, func(ctx context.Context, pipe manager.Pipeline) error {
		for i := 0; i < p.BatchCount; i++ {
			out, err := pipe.Run(ctx, j.req)
			if err != nil {
				return err
			}
			imgs := make([]image.Image, len(out.Images))
			for k, im := range out.Images {
				imgs[k] = im
			}
			if j.post != nil {
				if imgs, err = j.post(ctx, imgs); err != nil {
					return err
				}
			}
			batches = append(batches, imgs)
		}
		return nil
	})
	if err == nil {
		err = s.save(ctx, &res, batches)
	}
	res.Duration = time.Since(start)
	s.record(ctx, res, p, err)
	if err != nil {
		log.Error().Err(err).Msg("generation failed")
		res.Images, res.Paths = nil, nil
		return res, err
	}
	log.Info().Int("images", len(res.Images)).Dur("dur", res.Duration).Msg("generation done")
	return res, nil
}

// save hands every batch to the saver outside the in-flight slot and
// collects the images.
func (s *Studio) save(ctx context.Context, res *Result, batches [][]image.Image) error {
	for i, imgs := range batches {
		if s.saver != nil {
			paths, err := s.saver.Save(ctx, *res, imgs)
			if err != nil {
				return fmt.Errorf("save batch %d: %w", i, err)
			}
			res.Paths = append(res.Paths, paths...)
		}
		res.Images = append(res.Images, imgs...)
	}
	return nil
}

// prepare maps Params onto an executor request for task.
func (s *Studio) prepare(task manager.TaskKind, p Params) (job, error) {
	req := pipeline.Request{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		ImagesNum:      p.BatchSize,
		Width:          p.W,
		Height:         p.H,
		Steps:          p.NumSteps,
		GuidanceScale:  p.GuidanceScale,
		Sampler:        p.Sampler,
		Eta:            p.Eta,
	}
	switch task {
	case manager.Text2Img:
	case manager.Img2Img:
		if p.InitImage == nil {
			return job{}, fmt.Errorf("%w: img2img needs init_image", ErrInvalidParams)
		}
		req.InitImage = p.InitImage
		req.Strength = p.Strength
	case manager.Mix:
		if len(p.Mix) == 0 {
			return job{}, fmt.Errorf("%w: mix needs at least one image_i or text_i", ErrInvalidParams)
		}
		req.Mix = p.Mix
		req.Prompt = ""
	case manager.Inpainting:
		w, h := p.W, p.H
		if p.InferSize && p.InitImage != nil {
			w, h = imaging.InferSize(p.InitImage)
		}
		src, mask, err := imaging.InpaintTargets(p.InitImage, p.ImageMask, w, h, p.Target)
		if err != nil {
			return job{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		req.Width, req.Height = w, h
		req.InitImage, req.Mask, req.Strength = src, mask, 1
		if p.Region == imaging.RegionMask {
			orig := p.InitImage
			return job{req: req, post: func(ctx context.Context, imgs []image.Image) ([]image.Image, error) {
				return imaging.CompositeAll(ctx, orig, imgs, mask)
			}}, nil
		}
	case manager.Outpainting:
		off, err := imaging.ParseOffset(p.Offset)
		if err != nil {
			return job{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		canvas, mask, w, h, err := imaging.OutpaintTargets(p.InitImage, off, p.InferSize, p.W, p.H)
		if err != nil {
			return job{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		req.Width, req.Height = w, h
		req.InitImage, req.Mask, req.Strength = canvas, mask, 1
	default:
		return job{}, manager.ErrUnsupportedTask(s.mgr.Family().Name, task)
	}
	return job{req: req}, nil
}

func (s *Studio) record(ctx context.Context, res Result, p Params, runErr error) {
	if s.history == nil {
		return
	}
	e := types.HistoryEntry{
		RequestID:  res.RequestID,
		Task:       res.Task.String(),
		Family:     res.Family,
		Seed:       res.Seed,
		Prompt:     p.Prompt,
		Images:     len(res.Images),
		DurationMS: res.Duration.Milliseconds(),
		Params:     p.Summary(),
		CreatedAt:  time.Now().Unix(),
	}
	if runErr != nil {
		e.Error = runErr.Error()
	}
	// Failed and cancelled requests are recorded too.
	if err := s.history.Record(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn().Err(err).Str("request_id", res.RequestID).Msg("record history")
	}
}
