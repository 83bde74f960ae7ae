package model

// FeeSnapshot captures the fee engine output after one settlement step.
type FeeSnapshot struct {
	Pool      string `json:"pool"`
	Timestamp uint32 `json:"timestamp"`
	Tick      int32  `json:"tick"`
	Clamped   bool   `json:"clamped"`
	Cap       uint32 `json:"cap"`
	BaseFee   uint32 `json:"base_fee"`
	SurgeFee  uint32 `json:"surge_fee"`
	TotalFee  uint32 `json:"total_fee"`
}
