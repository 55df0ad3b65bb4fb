// Package query builds the marketplace filter document (component A).
// It is a pure function of configuration: no I/O, no dependency on the
// marketplace client.
package query

import (
	"encoding/json"

	"github.com/unattended-backpack/magister/internal/config"
)

// queryDoc mirrors the exact field names and shapes the original
// implementation's query builder emitted (see SPEC_FULL.md §11), encoded
// here as a Go struct instead of hand-built string concatenation so
// encoding/json handles escaping and number formatting.
type queryDoc struct {
	DiskSpace   gte             `json:"disk_space"`
	Reliability gte             `json:"reliability2"`
	Duration    gte             `json:"duration"`
	Verified    eq              `json:"verified"`
	DPHTotal    lte             `json:"dph_total"`
	GPURAM      gte             `json:"gpu_ram"`
	SortOption  map[string]any  `json:"sort_option"`
	Rentable    eq              `json:"rentable"`
	CudaMaxGood gteStr          `json:"cuda_max_good"`
	GPUName     inList          `json:"gpu_name"`
	AllocStor   int             `json:"allocated_storage"`
	Order       [][]string      `json:"order"`
	Type        string          `json:"type"`
}

type gte struct {
	Gte float64 `json:"gte"`
}

type gteStr struct {
	Gte string `json:"gte"`
}

type lte struct {
	Lte float64 `json:"lte"`
}

type eq struct {
	Eq bool `json:"eq"`
}

type inList struct {
	In []string `json:"in"`
}

// Build produces the compact JSON filter document carrying every
// constraint spec.md §4.A names: minimum disk space, minimum reliability,
// minimum rental duration, verified-only, maximum price-per-hour, minimum
// GPU RAM (converted GB -> MB), minimum CUDA version, GPU-name
// membership, allocated-storage target, ask type, and score-descending
// sort.
func Build(cfg config.OfferQueryConfig) string {
	doc := queryDoc{
		DiskSpace:   gte{Gte: float64(cfg.MinDiskSpaceGB)},
		Reliability: gte{Gte: cfg.MinReliability},
		Duration:    gte{Gte: cfg.MinDurationSecs},
		Verified:    eq{Eq: true},
		DPHTotal:    lte{Lte: cfg.MaxDPHTotal},
		GPURAM:      gte{Gte: float64(cfg.MinGPURAMGB) * 1000},
		SortOption:  map[string]any{"0": []string{"score", "desc"}},
		Rentable:    eq{Eq: true},
		CudaMaxGood: gteStr{Gte: formatCUDA(cfg.MinCUDAVersion)},
		GPUName:     inList{In: []string{cfg.GPUName}},
		AllocStor:   cfg.AllocatedStorage,
		Order:       [][]string{{"score", "desc"}},
		Type:        "ask",
	}

	b, err := json.Marshal(doc)
	if err != nil {
		// doc contains only primitives and slices; Marshal cannot fail.
		panic(err)
	}
	return string(b)
}

func formatCUDA(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
