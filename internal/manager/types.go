package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"diffstudio/internal/pipeline"
)

// TaskKind is the closed set of generation tasks.
type TaskKind int

const (
	Text2Img TaskKind = iota
	Img2Img
	Mix
	Inpainting
	Outpainting
)

// AllTasks lists every task kind in canonical order.
var AllTasks = []TaskKind{Text2Img, Img2Img, Mix, Inpainting, Outpainting}

var taskNames = [...]string{"text2img", "img2img", "mix", "inpainting", "outpainting"}

func (t TaskKind) String() string {
	if t < 0 || int(t) >= len(taskNames) {
		return fmt.Sprintf("task(%d)", int(t))
	}
	return taskNames[t]
}

// ParseTaskKind accepts the canonical names plus the short forms used on the
// HTTP surface (t2i, i2i, inpaint, outpaint).
func ParseTaskKind(s string) (TaskKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text2img", "t2i":
		return Text2Img, nil
	case "img2img", "i2i":
		return Img2Img, nil
	case "mix":
		return Mix, nil
	case "inpainting", "inpaint":
		return Inpainting, nil
	case "outpainting", "outpaint":
		return Outpainting, nil
	}
	return 0, fmt.Errorf("unknown task %q", s)
}

// Bucket names a group of tasks that share one resident pipeline.
type Bucket string

// EvictionPolicy decides which buckets a construction flushes first.
type EvictionPolicy int

const (
	// EvictBucketLocal keeps other buckets resident; they are evicted only
	// when the device budget requires it.
	EvictBucketLocal EvictionPolicy = iota
	// EvictAll flushes every bucket before any construction (legacy
	// single-pipeline families).
	EvictAll
)

func (p EvictionPolicy) String() string {
	if p == EvictAll {
		return "evict-all"
	}
	return "bucket-local"
}

// SlotState is the lifecycle state of a bucket's pipeline.
type SlotState string

const (
	StateUnloaded SlotState = "unloaded"
	StateLoading  SlotState = "loading"
	StateResident SlotState = "resident"
)

// Pipeline is a resident, runnable pipeline. *pipeline.Executor implements it.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Output, error)
	// Release moves every submodule to host memory and reclaims device memory.
	Release(ctx context.Context) error
}

// slot is the cache entry of one bucket.
type slot struct {
	bucket   Bucket
	state    SlotState
	pipe     Pipeline
	lastUsed time.Time
	builds   int
}
