package manager

import (
	"context"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"diffstudio/internal/pipeline"
)

// Builder constructs the pipeline serving bucket. It is called with no
// other bucket of a conflicting policy resident.
type Builder func(ctx context.Context, bucket Bucket) (Pipeline, error)

// Route maps one task kind to its bucket.
type Route struct {
	Task   TaskKind
	Bucket Bucket
}

// Family is a model family: its bucket table, eviction policy and builder.
type Family struct {
	Name        string
	Description string
	Policy      EvictionPolicy
	LowVRAM     bool
	Build       Builder
	// Estimate returns the expected device bytes of a bucket's pipeline.
	// Nil disables budget eviction.
	Estimate func(Bucket) int64
	// Validate rejects requests the family's pipelines cannot run. It must
	// not touch the device. Nil accepts everything.
	Validate func(pipeline.Request) error

	routes *orderedmap.OrderedMap[TaskKind, Bucket]
}

// NewFamily builds a family. Tasks without a route are unsupported.
func NewFamily(name string, policy EvictionPolicy, build Builder, routes ...Route) (*Family, error) {
	if name == "" {
		return nil, fmt.Errorf("family name is required")
	}
	if build == nil {
		return nil, fmt.Errorf("family %s: builder is required", name)
	}
	f := &Family{Name: name, Policy: policy, Build: build, routes: orderedmap.New[TaskKind, Bucket]()}
	for _, r := range routes {
		if r.Bucket == "" {
			return nil, fmt.Errorf("family %s: empty bucket for %s", name, r.Task)
		}
		if _, dup := f.routes.Get(r.Task); dup {
			return nil, fmt.Errorf("family %s: %s routed twice", name, r.Task)
		}
		f.routes.Set(r.Task, r.Bucket)
	}
	if f.routes.Len() == 0 {
		return nil, fmt.Errorf("family %s: no tasks routed", name)
	}
	return f, nil
}

// BucketFor returns the bucket serving task.
func (f *Family) BucketFor(task TaskKind) (Bucket, bool) {
	return f.routes.Get(task)
}

// Supports reports whether the family can run task.
func (f *Family) Supports(task TaskKind) bool {
	_, ok := f.routes.Get(task)
	return ok
}

// Tasks returns the supported tasks in route order.
func (f *Family) Tasks() []TaskKind {
	out := make([]TaskKind, 0, f.routes.Len())
	for p := f.routes.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

// Buckets returns the distinct buckets in first-route order.
func (f *Family) Buckets() []Bucket {
	seen := make(map[Bucket]bool)
	var out []Bucket
	for p := f.routes.Oldest(); p != nil; p = p.Next() {
		if !seen[p.Value] {
			seen[p.Value] = true
			out = append(out, p.Value)
		}
	}
	return out
}

// TasksIn returns the tasks routed to bucket.
func (f *Family) TasksIn(b Bucket) []TaskKind {
	var out []TaskKind
	for p := f.routes.Oldest(); p != nil; p = p.Next() {
		if p.Value == b {
			out = append(out, p.Key)
		}
	}
	return out
}

// CheckRequest runs the family's request validation, if any.
func (f *Family) CheckRequest(req pipeline.Request) error {
	if f.Validate == nil {
		return nil
	}
	return f.Validate(req)
}

func (f *Family) estimate(b Bucket) int64 {
	if f.Estimate == nil {
		return 0
	}
	return f.Estimate(b)
}
