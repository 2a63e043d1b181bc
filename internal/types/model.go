package types

import "time"

// AnalysisResult is written once per agent per session and is never mutated
// afterwards; the pipeline appends new ones, it does not edit existing ones.
type AnalysisResult struct {
	Agent      AgentKind          `json:"agent"`
	Signal     Signal             `json:"signal"`
	Confidence float64            `json:"confidence"` // clamped to [0.30, 0.95] by callers
	Summary    string             `json:"summary"`
	Reasoning  string             `json:"reasoning"`
	KeyFactors []string           `json:"key_factors"` // at most 5
	Indicators map[string]float64 `json:"indicators"`
	CreatedAt  time.Time          `json:"created_at"`
}

// StopLossMode controls whether RiskMonitor auto-executes a stop-loss/
// take-profit breach or raises an alert for a human to act on.
type StopLossMode string

const (
	StopLossUserApproval StopLossMode = "user-approval"
	StopLossAuto         StopLossMode = "auto"
)

// PositionStatus tracks a Position's lifecycle within the Coordinator.
type PositionStatus string

const (
	PositionPending PositionStatus = "pending"
	PositionPartial PositionStatus = "partial"
	PositionFilled  PositionStatus = "filled"
	PositionClosing PositionStatus = "closing"
	PositionClosed  PositionStatus = "closed"
)

// Position is exclusively owned by the Coordinator; RiskMonitor only reads
// a watch-entry projection of it (see riskmonitor.WatchEntry).
type Position struct {
	AssetID      string
	Name         string
	Quantity     float64 // > 0
	AvgCost      float64
	CurrentPrice float64
	StopLoss     *float64
	TakeProfit   *float64
	StopLossMode StopLossMode
	Status       PositionStatus
	RiskScore    float64
	SessionID    string
	OpenedAt     time.Time
	UpdatedAt    time.Time
}

// UnrealizedPnLPct is derived, never stored.
func (p Position) UnrealizedPnLPct() float64 {
	if p.AvgCost == 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgCost) / p.AvgCost * 100
}

// MarketValue is derived, never stored.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// TradeProposal is produced by the pipeline's synthesis stage.
type TradeProposal struct {
	SessionID       string
	AssetID         string
	Action          TradeAction
	Quantity        float64
	EntryPrice      float64
	StopLoss        *float64
	TakeProfit      *float64
	RiskScore       float64
	PositionSizePct float64
	Rationale       string
	BullSummary     string
	BearSummary     string
	Analyses        []AnalysisResult
	CreatedAt       time.Time
}

// SessionStage enumerates the pipeline's state-machine positions. Stage
// values observed over a session's lifetime form a monotonic walk through
// this list, modulo zero-or-more re-analyze -> DataCollection resets.
type SessionStage string

const (
	StageDataCollection   SessionStage = "data-collection"
	StageParallelAnalysis SessionStage = "parallel-analysis"
	StageRisk             SessionStage = "risk"
	StageSynthesis        SessionStage = "synthesis"
	StageApproval         SessionStage = "approval"
	StageExecution        SessionStage = "execution"
	StageComplete         SessionStage = "complete"
)

// ApprovalStatus of a session awaiting a human decision at the approval
// interrupt.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalNone     ApprovalStatus = ""
)

// Session owns the in-flight state of one Pipeline run for one asset.
type Session struct {
	ID               string
	AssetID          string
	Stage            SessionStage
	Proposal         *TradeProposal
	Analyses         []AnalysisResult
	ApprovalStatus   ApprovalStatus
	ReanalysisCount  int
	ReasoningLog     []string
	UserFeedback     string
	AwaitingApproval bool
	Error            string
	Cancelled        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Log appends a reasoning-log line; errors are prefixed per this package's
// error-handling design so the UI can render them distinctly.
func (s *Session) Log(line string) {
	s.ReasoningLog = append(s.ReasoningLog, line)
}

// LogError appends an error line with the required "[ERROR]" prefix.
func (s *Session) LogError(line string) {
	s.ReasoningLog = append(s.ReasoningLog, "[ERROR] "+line)
}

// QueueStatus of a deferred trade.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// QueuedTrade is an approved proposal deferred because its market was
// closed at approval time.
type QueuedTrade struct {
	ID        string
	Proposal  TradeProposal
	Status    QueueStatus
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WatchStatus of a WatchedStock entry.
type WatchStatus string

const (
	WatchActive    WatchStatus = "active"
	WatchTriggered WatchStatus = "triggered"
	WatchRemoved   WatchStatus = "removed"
	WatchConverted WatchStatus = "converted"
)

// WatchedStock is an asset the pipeline recommended watch or avoid on.
type WatchedStock struct {
	AssetID      string
	Signal       Signal
	Confidence   float64
	CurrentPrice float64
	TargetEntry  float64
	StopLoss     *float64
	TakeProfit   *float64
	Summary      string
	Status       WatchStatus
	AddedAt      time.Time
}

// AlertKind enumerates the events RiskMonitor and the Coordinator raise.
type AlertKind string

const (
	AlertStopLossTriggered   AlertKind = "stop-loss-triggered"
	AlertTakeProfitTriggered AlertKind = "take-profit-triggered"
	AlertSuddenMove          AlertKind = "sudden-move"
	AlertOrderFailed         AlertKind = "order-failed"
	AlertTradingPaused       AlertKind = "trading-paused"
	AlertTradingResumed      AlertKind = "trading-resumed"
)

// AlertAction enumerates the options a user may choose when resolving an
// alert that requires action.
type AlertAction string

const (
	ActionResume            AlertAction = "resume"
	ActionClosePosition     AlertAction = "close-position"
	ActionAdjustStopLoss    AlertAction = "adjust-stop-loss"
	ActionExecuteStopLoss   AlertAction = "execute-stop-loss"
	ActionExecuteTakeProfit AlertAction = "execute-take-profit"
	AlertActionHold         AlertAction = "hold"
)

// Alert is created by RiskMonitor (or the Coordinator, for pause/resume).
type Alert struct {
	ID             string
	Kind           AlertKind
	AssetID        string // optional, empty for account-wide alerts
	Title          string
	Message        string
	Payload        map[string]any
	ActionRequired bool
	Options        []AlertAction
	Acknowledged   bool
	Resolved       bool
	CreatedAt      time.Time
}

// TradeState tracks one executed (or attempted) order's outcome.
type TradeState string

const (
	TradeSubmitted TradeState = "submitted"
	TradePartial   TradeState = "partial"
	TradeFilled    TradeState = "filled"
	TradeRejected  TradeState = "rejected"
	TradeCancelled TradeState = "cancelled"
)

// Trade is the persisted record of one order the Coordinator dispatched:
// what was requested, what actually executed, and the upstream's id for
// reconciliation.
type Trade struct {
	ID                string
	SessionID         string
	AssetID           string
	Side              string // "buy" | "sell"
	OrderType         string // "market" | "limit"
	RequestedPrice    float64
	ExecutedPrice     float64
	RequestedQuantity float64
	ExecutedQuantity  float64
	Fee               float64
	TotalValue        float64
	State             TradeState
	UpstreamOrderID   string
	CreatedAt         time.Time
}

// AccountSnapshot is refreshed on demand and never cached longer than 30
// seconds (the cache's default TTL for the cash_balance key prefix).
type AccountSnapshot struct {
	TotalEquity     float64
	AvailableCash   float64
	TotalStockValue float64
	CashRatio       float64
	StockRatio      float64
	AsOf            time.Time
}
