package model

// SwapEvent is one settled swap as replayed into the fee engine. Amount-level
// detail is not needed here; the engine consumes the post-swap tick, the
// in-range liquidity, and the settlement timestamp.
type SwapEvent struct {
	Pool      string `json:"pool"`
	Tick      int32  `json:"tick"`
	Liquidity string `json:"liquidity"`
	Timestamp uint32 `json:"timestamp"`
}
