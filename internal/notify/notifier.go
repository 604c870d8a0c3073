package notify

import "context"

// BatchFinishedEvent 一批登录或建频道任务结束（跑完或被停止）。
type BatchFinishedEvent struct {
	BatchID   string         `json:"batchId"`
	Kind      string         `json:"kind"`
	Total     int            `json:"total"`
	Done      int            `json:"done"`
	Stopped   bool           `json:"stopped,omitempty"`
	Results   map[string]int `json:"results,omitempty"`
	StartedMs int64          `json:"startedMs"`
	EndedMs   int64          `json:"endedMs"`
}

type Notifier interface {
	NotifyBatchFinished(ctx context.Context, evt BatchFinishedEvent)
}
