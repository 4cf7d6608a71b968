package cache

// Stats holds cache performance metrics.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hit_rate"`
}

// LayerStats is the stats payload served by the control API.
type LayerStats struct {
	Hot     Stats `json:"hot"`
	Skipped int64 `json:"skipped_oversize"`
}
