package domain

// InsertStrategy identifies how text reached the target application.
type InsertStrategy string

const (
	StrategyNone      InsertStrategy = "none"
	StrategyDirect    InsertStrategy = "direct"
	StrategyMenuPaste InsertStrategy = "menuPaste"
	StrategySynthetic InsertStrategy = "synthetic"
)

// DeliveryResult reports the outcome of one insertion attempt. The clipboard
// holds the text afterwards regardless of Success, so a manual paste always
// works as a safety net.
type DeliveryResult struct {
	Success      bool           `json:"success"`
	StrategyUsed InsertStrategy `json:"strategyUsed"`
	Details      string         `json:"details,omitempty"`
}
