package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"diffstudio/internal/pipeline"
)

// lab records builds and releases of fake pipelines and tracks how many are
// alive (built and not yet released).
type lab struct {
	mu       sync.Mutex
	log      []string
	alive    int
	buildErr map[Bucket]error
	builds   map[Bucket]int
	runErr   error
}

func newLab() *lab { return &lab{buildErr: map[Bucket]error{}, builds: map[Bucket]int{}} }

func (l *lab) record(s string) {
	l.mu.Lock()
	l.log = append(l.log, s)
	l.mu.Unlock()
}

func (l *lab) entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.log...)
}

func (l *lab) live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive
}

func (l *lab) build(_ context.Context, b Bucket) (Pipeline, error) {
	l.mu.Lock()
	err := l.buildErr[b]
	l.builds[b]++
	n := l.builds[b]
	l.mu.Unlock()
	l.record("build " + string(b))
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.alive++
	l.mu.Unlock()
	return &fakePipe{lab: l, bucket: b, id: fmt.Sprintf("%s#%d", b, n)}, nil
}

type fakePipe struct {
	lab    *lab
	bucket Bucket
	id     string
	freed  bool
}

func (p *fakePipe) Run(context.Context, pipeline.Request) (pipeline.Output, error) {
	return pipeline.Output{}, p.lab.runErr
}

func (p *fakePipe) Release(context.Context) error {
	if p.freed {
		return errors.New("double release of " + p.id)
	}
	p.freed = true
	p.lab.mu.Lock()
	p.lab.alive--
	p.lab.mu.Unlock()
	p.lab.record("release " + string(p.bucket))
	return nil
}

// legacyFamily mirrors a single-pipeline family with two buckets.
func legacyFamily(t *testing.T, l *lab) *Family {
	t.Helper()
	f, err := NewFamily("legacy", EvictAll, l.build,
		Route{Text2Img, "generation"}, Route{Img2Img, "generation"}, Route{Mix, "generation"},
		Route{Inpainting, "inpaint"}, Route{Outpainting, "inpaint"})
	if err != nil {
		t.Fatalf("NewFamily: %v", err)
	}
	return f
}

// localFamily keeps buckets independent.
func localFamily(t *testing.T, l *lab) *Family {
	t.Helper()
	f, err := NewFamily("local", EvictBucketLocal, l.build,
		Route{Text2Img, "t2i"}, Route{Mix, "t2i"}, Route{Img2Img, "i2i"},
		Route{Inpainting, "inpaint"}, Route{Outpainting, "inpaint"})
	if err != nil {
		t.Fatalf("NewFamily: %v", err)
	}
	return f
}

func newTestManager(t *testing.T, f *Family, pub EventPublisher) *Manager {
	t.Helper()
	m, err := New(Config{Family: f, Publisher: pub, MaxQueueDepth: 2, MaxWait: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
