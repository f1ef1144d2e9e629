package types

// Weights is a component weight file discovered in the weights directory.
type Weights struct {
	// Stable identifier: <family>/<component>.
	// example: kd31/unet
	ID string `json:"id" example:"kd31/unet"`
	// Family directory the file was found under.
	// example: kd31
	Family string `json:"family" example:"kd31"`
	// Component name (file stem).
	// example: unet
	Component string `json:"component" example:"unet"`
	// Absolute path on disk.
	Path string `json:"path"`
	// File size in bytes; used as the device residency estimate.
	SizeBytes int64 `json:"size_bytes"`
}

// FamilyInfo describes a model family.
type FamilyInfo struct {
	// example: diffusers21
	Name string `json:"name" example:"diffusers21"`
	// example: bucket-local
	Policy string `json:"policy" example:"bucket-local"`
	// Whether the family runs the staged low-VRAM executor.
	LowVRAM bool `json:"low_vram"`
	// Supported task kinds.
	Tasks []string `json:"tasks"`
	// Bucket per supported task.
	Buckets map[string]string `json:"buckets"`
	// Short description.
	Description string `json:"description,omitempty"`
}

// HistoryEntry is one recorded generation.
type HistoryEntry struct {
	RequestID  string `json:"request_id"`
	Task       string `json:"task"`
	Family     string `json:"family"`
	Seed       int64  `json:"seed"`
	Prompt     string `json:"prompt"`
	Images     int    `json:"images"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	// Request parameters as JSON (images stripped).
	Params    string `json:"params"`
	CreatedAt int64  `json:"created_unix"`
}
