package schema

import "time"

// Observation is the stored best-known state of one remote index.
type Observation struct {
	Schema         string    `json:"schema"`
	Table          string    `json:"table"`
	Index          string    `json:"index"`
	SizeBytes      int64     `json:"sizeBytes"`
	BestSizeBytes  int64     `json:"bestSizeBytes"`
	BestRatio      float64   `json:"bestRatio"`
	LastObservedAt time.Time `json:"lastObservedAt"`
}

// Estimate is the derived bloat estimate for one index.
type Estimate struct {
	Schema     string  `json:"schema"`
	Table      string  `json:"table"`
	Index      string  `json:"index"`
	SizeBytes  int64   `json:"sizeBytes"`
	Ratio      float64 `json:"ratio"`
	BloatBytes int64   `json:"estimatedBloatBytes"`
}

// HistoryRecord is one rebuild attempt with its derived savings.
type HistoryRecord struct {
	ID             int64     `json:"id"`
	Schema         string    `json:"schema"`
	Table          string    `json:"table"`
	Index          string    `json:"index"`
	SizeBefore     int64     `json:"sizeBefore"`
	SizeAfter      *int64    `json:"sizeAfter,omitempty"`
	EstimatedRows  int64     `json:"estimatedRows"`
	RebuildMS      *int64    `json:"rebuildMs,omitempty"`
	AnalyzeMS      *int64    `json:"analyzeMs,omitempty"`
	RecordedAt     time.Time `json:"recordedAt"`
	DerivedRatio   *float64  `json:"derivedRatio,omitempty"`
	ReclaimedBytes *int64    `json:"reclaimedBytes,omitempty"`
}

// Marker is one live rebuild lock.
type Marker struct {
	TargetID   int64     `json:"targetId"`
	Schema     string    `json:"schema"`
	Table      string    `json:"table"`
	Index      string    `json:"index"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Artifact is a leftover object from an interrupted online rebuild.
type Artifact struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}
