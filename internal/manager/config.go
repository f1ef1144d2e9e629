package manager

import (
	"time"

	"github.com/rs/zerolog"

	"diffstudio/internal/device"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Family *Family
	// Pool is the device the family's pipelines reserve memory in. Optional;
	// enables budget eviction for bucket-local families and device status.
	Pool          *device.Pool
	MaxQueueDepth int
	MaxWait       time.Duration
	Publisher     EventPublisher
	Logger        zerolog.Logger
}

// New constructs a Manager. Every bucket of the family starts Unloaded.
func New(cfg Config) (*Manager, error) {
	if cfg.Family == nil {
		return nil, errNoFamily
	}
	m := &Manager{
		family:    cfg.Family,
		pool:      cfg.Pool,
		publisher: cfg.Publisher,
		log:       cfg.Logger.With().Str("component", "manager").Str("family", cfg.Family.Name).Logger(),
		slots:     make(map[Bucket]*slot),
		startTime: time.Now(),
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	m.genCh = make(chan struct{}, 1)
	m.queueCh = make(chan struct{}, m.maxQueueDepth)
	for _, b := range cfg.Family.Buckets() {
		m.slots[b] = &slot{bucket: b, state: StateUnloaded}
	}
	return m, nil
}
