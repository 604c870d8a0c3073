package model

import "time"

type Phone struct {
	ID        int64     `json:"id"`
	Number    string    `json:"phoneNumber"`
	SMSURL    string    `json:"smsUrl,omitempty"`
	ExpireAt  time.Time `json:"expireAt,omitempty"`
	Used      bool      `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired 未设置过期时间视为永不过期。
func (p Phone) Expired(now time.Time) bool {
	return !p.ExpireAt.IsZero() && !p.ExpireAt.After(now)
}

// Eligible 可分配：未使用、未过期。
func (p Phone) Eligible(now time.Time) bool {
	return !p.Used && !p.Expired(now)
}

type BrowserEnv struct {
	ID            int64     `json:"id"`
	ContainerCode string    `json:"containerCode"`
	ContainerName string    `json:"containerName,omitempty"`
	Used          bool      `json:"status"`
	AccountID     int64     `json:"accountId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Node struct {
	ID        int64     `json:"id"`
	IP        string    `json:"ip"`
	Port      int       `json:"port"`
	Username  string    `json:"username,omitempty"`
	Password  string    `json:"password,omitempty"`
	Used      bool      `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type LoginLog struct {
	ID           int64     `json:"id"`
	AccountID    int64     `json:"accountId"`
	BrowserEnvID string    `json:"browserEnvId,omitempty"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"createdAt"`
}
