package types

// GenerateRequest documents the flat parameter map accepted by POST /generate/{task}.
// Images are base64-encoded PNG or JPEG. Unknown keys are ignored.
type GenerateRequest struct {
	// Prompt text.
	// example: a red ball on a wooden table
	Prompt string `json:"prompt" example:"a red ball on a wooden table"`
	// Negative prompt text.
	// example: blurry, low quality
	NegativePrompt string `json:"negative_prompt,omitempty" example:"blurry, low quality"`
	// Negative prompt for the prior stage (families with a prior).
	NegativePriorPrompt string `json:"negative_prior_prompt,omitempty"`
	// Number of denoising steps.
	// example: 50
	NumSteps int `json:"num_steps,omitempty" example:"50"`
	// Classifier-free guidance scale.
	// example: 4
	GuidanceScale float64 `json:"guidance_scale,omitempty" example:"4"`
	// Images per executor run.
	// example: 1
	BatchSize int `json:"batch_size,omitempty" example:"1"`
	// Number of executor runs.
	// example: 1
	BatchCount int `json:"batch_count,omitempty" example:"1"`
	// Output width in pixels.
	// example: 768
	W int `json:"w,omitempty" example:"768"`
	// Output height in pixels.
	// example: 768
	H int `json:"h,omitempty" example:"768"`
	// Sampler: default, p_sampler, ddim_sampler or gan.
	// example: p_sampler
	Sampler string `json:"sampler,omitempty" example:"p_sampler"`
	// Prior guidance scale.
	PriorCFScale float64 `json:"prior_cf_scale,omitempty"`
	// Prior steps.
	PriorSteps int `json:"prior_steps,omitempty"`
	// Seed; -1 picks a fresh random seed.
	// example: -1
	InputSeed int64 `json:"input_seed,omitempty" example:"-1"`
	// Noise scale for stochastic samplers.
	Eta float64 `json:"eta,omitempty"`
	// Source image for img2img, inpainting and outpainting.
	InitImage string `json:"init_image,omitempty"`
	// Fraction of the schedule applied to init_image (img2img).
	// example: 0.7
	Strength float64 `json:"strength,omitempty" example:"0.7"`
	// Inpainting mask (white = repaint).
	ImageMask string `json:"image_mask,omitempty"`
	// Inpainting region: "whole" or "mask".
	Region string `json:"region,omitempty"`
	// Inpainting target: "only mask" or "all but mask".
	Target string `json:"target,omitempty"`
	// Outpainting offset [left, right, top, bottom].
	Offset []int `json:"offset,omitempty"`
	// Derive the working size from the source image.
	InferSize bool `json:"infer_size,omitempty"`
	// Number of mix entries (image_i/text_i/weight_i).
	MixImageCount int `json:"mix_image_count,omitempty"`
}

// GenerateResponse is returned by POST /generate/{task}.
type GenerateResponse struct {
	// Request identifier, also recorded in history.
	// example: 2f1c8d0e-4d8e-4b1a-9b7c-1f6f2f0b9a11
	RequestID string `json:"request_id" example:"2f1c8d0e-4d8e-4b1a-9b7c-1f6f2f0b9a11"`
	// Seed actually used.
	// example: 42
	Seed int64 `json:"seed" example:"42"`
	// Task kind.
	// example: text2img
	Task string `json:"task" example:"text2img"`
	// Model family that served the request.
	// example: kd31-lowvram
	Family string `json:"family" example:"kd31-lowvram"`
	// Base64-encoded PNG images in generation order.
	Images []string `json:"images"`
	// Wall time in milliseconds.
	// example: 5400
	DurationMS int64 `json:"duration_ms" example:"5400"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// SlotStatus summarizes one cache bucket for /status.
type SlotStatus struct {
	// Bucket name.
	// example: generation
	Bucket string `json:"bucket" example:"generation"`
	// Task kinds routed to this bucket.
	Tasks []string `json:"tasks"`
	// Slot state: unloaded, loading or resident.
	// example: resident
	State string `json:"state" example:"resident"`
	// Last time the slot served a request (unix seconds, 0 if never).
	LastUsed int64 `json:"last_used_unix"`
	// Number of times this bucket was constructed.
	Builds int `json:"builds"`
	// Estimated device bytes of the bucket's pipeline.
	EstBytes int64 `json:"est_bytes"`
}

// DeviceStatus reports the accelerator pool.
type DeviceStatus struct {
	// example: cuda
	Name string `json:"name" example:"cuda"`
	// Bytes currently reserved by resident components.
	UsedBytes int64 `json:"used_bytes"`
	// High-water mark of reserved bytes.
	PeakBytes int64 `json:"peak_bytes"`
	// Pool capacity; 0 means unlimited.
	CapacityBytes int64 `json:"capacity_bytes"`
	// Components currently resident.
	Residents []string `json:"residents"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Active model family.
	// example: kd21
	Family string `json:"family" example:"kd21"`
	// Eviction policy: bucket-local or evict-all.
	// example: evict-all
	Policy string `json:"policy" example:"evict-all"`
	// Cache slots in bucket order.
	Slots []SlotStatus `json:"slots"`
	// Device pool, when configured.
	Device *DeviceStatus `json:"device,omitempty"`
	// Requests waiting for admission.
	QueueLen int `json:"queue_len"`
	// Requests currently generating (0 or 1).
	Inflight int `json:"inflight"`
	// Maximum queued requests before backpressure.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Total slot evictions.
	EvictionsTotal uint64 `json:"evictions_total"`
	// Total pipeline constructions.
	LoadsTotal uint64 `json:"loads_total"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// FamiliesResponse is returned by GET /families.
type FamiliesResponse struct {
	// The family this process serves.
	Active string `json:"active"`
	// All known families.
	Families []FamilyInfo `json:"families"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}
