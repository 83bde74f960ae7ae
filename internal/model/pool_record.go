package model

// PoolRecord is the registry row for an enabled pool.
type PoolRecord struct {
	Pool        string `json:"pool"`
	InitialTick int32  `json:"initial_tick"`
	EnabledAt   uint32 `json:"enabled_at"`
}
