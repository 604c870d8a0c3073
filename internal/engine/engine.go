package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"google_account/internal/appeal"
	"google_account/internal/browser"
	"google_account/internal/channel"
	"google_account/internal/config"
	"google_account/internal/hubstudio"
	"google_account/internal/logbus"
	"google_account/internal/login"
	"google_account/internal/model"
	"google_account/internal/notify"
	"google_account/internal/pool"
	"google_account/internal/store/sqlite"
	"google_account/internal/utils"
)

// Launcher 启动远程浏览器环境，返回页面与关闭函数。
type Launcher interface {
	Launch(ctx context.Context, containerCode string) (browser.Page, func(context.Context), error)
}

// Provisioner 按节点创建浏览器环境。
type Provisioner interface {
	Groups(ctx context.Context) ([]hubstudio.Group, error)
	CreateEnvironment(ctx context.Context, req hubstudio.CreateRequest) (string, error)
}

type Options struct {
	Store       *sqlite.Store
	Pool        *pool.Pool
	Browsers    Launcher
	Provisioner Provisioner
	SMS         login.CodeSource
	Captcha     login.CaptchaSolver
	Appeals     appeal.TextSource
	Avatars     *channel.AvatarPool
	Bus         *logbus.Bus
	Notifier    notify.Notifier
	Clock       utils.Clock

	Login   config.LoginConfig
	Worker  config.WorkerConfig
	Channel config.ChannelConfig
}

type Engine struct {
	store       *sqlite.Store
	pool        *pool.Pool
	browsers    Launcher
	provisioner Provisioner
	sms         login.CodeSource
	captcha     login.CaptchaSolver
	appeals     appeal.TextSource
	avatars     *channel.AvatarPool
	bus         *logbus.Bus
	notifier    notify.Notifier
	clock       utils.Clock

	loginCfg   config.LoginConfig
	worker     config.WorkerConfig
	channelCfg config.ChannelConfig

	mu      sync.Mutex
	batches map[string]*batch
	wg      sync.WaitGroup
}

type batch struct {
	state  model.BatchState
	cancel context.CancelFunc
}

// taskFunc 处理一个账号，返回用于统计的结果标签。
type taskFunc func(ctx context.Context, accountID int64) string

const (
	resultSkipped = "skipped"
	resultFailed  = "failed"

	keepFinishedBatches = 20
)

func New(opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &Engine{
		store:       opts.Store,
		pool:        opts.Pool,
		browsers:    opts.Browsers,
		provisioner: opts.Provisioner,
		sms:         opts.SMS,
		captcha:     opts.Captcha,
		appeals:     opts.Appeals,
		avatars:     opts.Avatars,
		bus:         opts.Bus,
		notifier:    opts.Notifier,
		clock:       clock,
		loginCfg:    opts.Login,
		worker:      opts.Worker,
		channelCfg:  opts.Channel,
		batches:     make(map[string]*batch),
	}
}

func (e *Engine) State() model.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := model.EngineState{Batches: make([]model.BatchState, 0, len(e.batches))}
	for _, b := range e.batches {
		out.Batches = append(out.Batches, copyState(b.state))
	}
	sort.Slice(out.Batches, func(i, j int) bool { return out.Batches[i].StartedMs > out.Batches[j].StartedMs })
	return out
}

func copyState(s model.BatchState) model.BatchState {
	out := s
	out.Results = make(map[string]int, len(s.Results))
	for k, v := range s.Results {
		out.Results[k] = v
	}
	return out
}

// StopAllTasks 取消所有批次；正在处理的账号跑完当前流程，不再取下一个。
func (e *Engine) StopAllTasks() int {
	e.mu.Lock()
	var cancels []context.CancelFunc
	for _, b := range e.batches {
		if b.state.Running {
			cancels = append(cancels, b.cancel)
		}
	}
	e.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	e.bus.Log("info", "已停止所有任务", map[string]any{"batches": len(cancels)})
	return len(cancels)
}

// Close 停止并等待所有批次退出。
func (e *Engine) Close(ctx context.Context) error {
	e.StopAllTasks()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (e *Engine) startBatch(kind model.BatchKind, ids []int64, fn taskFunc) (string, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return "", errors.New("no accounts selected")
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	b := &batch{
		state: model.BatchState{
			ID:        id,
			Kind:      kind,
			Running:   true,
			Total:     len(ids),
			Results:   map[string]int{},
			StartedMs: e.clock.Now().UnixMilli(),
		},
		cancel: cancel,
	}

	queue := make(chan int64, len(ids))
	for _, accountID := range ids {
		queue <- accountID
	}
	close(queue)

	e.mu.Lock()
	e.batches[id] = b
	e.pruneLocked()
	e.mu.Unlock()

	e.bus.Batch(logbus.BatchData{BatchID: id, Kind: string(kind), Phase: "start", Total: len(ids)})
	e.bus.Log("info", "批量任务开始", map[string]any{"batchId": id, "kind": kind, "total": len(ids)})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.runBatch(ctx, b, queue, fn)
	}()
	return id, nil
}

func (e *Engine) pruneLocked() {
	var finished []*batch
	for _, b := range e.batches {
		if !b.state.Running {
			finished = append(finished, b)
		}
	}
	if len(finished) <= keepFinishedBatches {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].state.StartedMs < finished[j].state.StartedMs })
	for _, b := range finished[:len(finished)-keepFinishedBatches] {
		delete(e.batches, b.state.ID)
	}
}

func (e *Engine) runBatch(ctx context.Context, b *batch, queue <-chan int64, fn taskFunc) {
	size := e.worker.Size
	if size <= 0 {
		size = 3
	}
	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			// 错开启动，避免同时打开多个浏览器
			if idx > 0 && !e.clock.Sleep(ctx, time.Duration(idx)*500*time.Millisecond) {
				return
			}
			e.work(ctx, b, queue, fn)
		}(i)
	}
	wg.Wait()
	e.finish(ctx, b)
}

func (e *Engine) work(ctx context.Context, b *batch, queue <-chan int64, fn taskFunc) {
	for {
		if ctx.Err() != nil {
			return
		}
		accountID, ok := <-queue
		if !ok {
			return
		}
		// 账号流程不受停止影响，跑完当前账号
		result := e.safeRun(context.WithoutCancel(ctx), fn, accountID)
		e.record(b, accountID, result)

		if len(queue) == 0 {
			return
		}
		if !e.clock.Sleep(ctx, utils.Between(e.worker.DelayMin(), e.worker.DelayMax())) {
			return
		}
	}
}

func (e *Engine) safeRun(ctx context.Context, fn taskFunc, accountID int64) (result string) {
	defer func() {
		if r := recover(); r != nil {
			e.bus.Log("error", "账号任务异常", map[string]any{"accountId": accountID, "error": fmt.Sprint(r)})
			result = resultFailed
		}
	}()
	return fn(ctx, accountID)
}

func (e *Engine) record(b *batch, accountID int64, result string) {
	e.mu.Lock()
	b.state.Done++
	b.state.Results[result]++
	data := logbus.BatchData{
		BatchID:   b.state.ID,
		Kind:      string(b.state.Kind),
		Phase:     "progress",
		AccountID: accountID,
		Status:    result,
		Done:      b.state.Done,
		Total:     b.state.Total,
	}
	e.mu.Unlock()
	e.bus.Batch(data)
}

func (e *Engine) finish(ctx context.Context, b *batch) {
	e.mu.Lock()
	b.state.Running = false
	b.state.Stopped = ctx.Err() != nil && b.state.Done < b.state.Total
	b.state.EndedMs = e.clock.Now().UnixMilli()
	st := copyState(b.state)
	e.mu.Unlock()

	phase := "done"
	if st.Stopped {
		phase = "stopped"
	}
	e.bus.Batch(logbus.BatchData{BatchID: st.ID, Kind: string(st.Kind), Phase: phase, Done: st.Done, Total: st.Total})
	e.bus.Log("info", "批量任务结束", map[string]any{"batchId": st.ID, "done": st.Done, "total": st.Total, "results": st.Results})

	if e.notifier != nil {
		e.notifier.NotifyBatchFinished(context.Background(), notify.BatchFinishedEvent{
			BatchID:   st.ID,
			Kind:      string(st.Kind),
			Total:     st.Total,
			Done:      st.Done,
			Stopped:   st.Stopped,
			Results:   st.Results,
			StartedMs: st.StartedMs,
			EndedMs:   st.EndedMs,
		})
	}
}
