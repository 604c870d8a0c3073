package utils

import (
	"math/rand"
	"sync"
	"time"
)

const nameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RandomName 小写字母加数字。
func RandomName(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	rngMu.Lock()
	for i := range b {
		b[i] = nameAlphabet[rng.Intn(len(nameAlphabet))]
	}
	rngMu.Unlock()
	return string(b)
}

// Between 返回 [min, max] 内的随机时长。
func Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	rngMu.Lock()
	d := min + time.Duration(rng.Int63n(int64(max-min)+1))
	rngMu.Unlock()
	return d
}

func Intn(n int) int {
	if n <= 0 {
		return 0
	}
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Intn(n)
}
