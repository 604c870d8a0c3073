package model

type BatchKind string

const (
	BatchKindLogin   BatchKind = "login"
	BatchKindChannel BatchKind = "channel"
)

type BatchState struct {
	ID        string         `json:"id"`
	Kind      BatchKind      `json:"kind"`
	Running   bool           `json:"running"`
	Total     int            `json:"total"`
	Done      int            `json:"done"`
	Stopped   bool           `json:"stopped,omitempty"`
	Results   map[string]int `json:"results,omitempty"`
	StartedMs int64          `json:"startedMs"`
	EndedMs   int64          `json:"endedMs,omitempty"`
}

type EngineState struct {
	Batches []BatchState `json:"batches"`
}
