package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/monitoring"
	"tempmailbot/backend/internal/pool"
)

// Watcher 是后台轮询调度循环。
//
// 每个间隔对全部活跃邮箱发起一轮扫描，单个邮箱同一时刻
// 至多一个在途周期；上一周期未结束时本轮直接跳过该邮箱。
type Watcher struct {
	store      domain.Store
	poller     *Poller
	dispatcher *Dispatcher
	pool       *pool.WorkerPool
	interval   time.Duration
	metrics    *monitoring.Metrics
	logger     *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewWatcher 创建轮询调度循环。metrics 可为 nil。
func NewWatcher(store domain.Store, poller *Poller, dispatcher *Dispatcher, workerPool *pool.WorkerPool, interval time.Duration, metrics *monitoring.Metrics, logger *zap.Logger) *Watcher {
	return &Watcher{
		store:      store,
		poller:     poller,
		dispatcher: dispatcher,
		pool:       workerPool,
		interval:   interval,
		metrics:    metrics,
		logger:     logger,
		inflight:   make(map[string]struct{}),
	}
}

// Run 启动调度循环，阻塞直到 ctx 取消。
//
// 退出时先停止派发新周期，再等待协程池排空在途周期，
// 保证不中断进行中的投递。
func (w *Watcher) Run(ctx context.Context) {
	// 协程池使用独立上下文：关停由 Stop 驱动，不随 ctx 中断任务
	w.pool.Start(context.Background())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("mailbox watcher started",
		zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("mailbox watcher stopping")
			w.pool.Stop()
			w.wg.Wait()
			w.logger.Info("mailbox watcher stopped")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep 对全部活跃邮箱派发一轮轮询任务。
func (w *Watcher) sweep() {
	mailboxes := w.store.ListActiveMailboxes()
	if w.metrics != nil {
		w.metrics.MailboxesActive.Set(float64(len(mailboxes)))
	}

	for i := range mailboxes {
		mailbox := mailboxes[i]

		if !w.claim(mailbox.Address) {
			if w.metrics != nil {
				w.metrics.PollSkipped.Inc()
			}
			continue
		}

		w.wg.Add(1)
		submitted := w.pool.TrySubmit(func() {
			defer w.wg.Done()
			defer w.release(mailbox.Address)
			w.pollMailbox(&mailbox)
		})
		if !submitted {
			w.wg.Done()
			w.release(mailbox.Address)
			if w.metrics != nil {
				w.metrics.PollSkipped.Inc()
			}
			w.logger.Warn("poll queue full, skipping mailbox",
				zap.String("address", mailbox.Address))
		}
	}
}

// pollMailbox 执行单个邮箱的一个完整周期（轮询 + 投递）。
//
// 周期使用独立的超时上下文，不受调度循环关停影响，
// 保证在途的提供方请求与通知发送能够完成。
func (w *Watcher) pollMailbox(mailbox *domain.Mailbox) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*w.interval)
	defer cancel()

	result, err := w.poller.PollOnce(ctx, mailbox)
	if err != nil {
		w.logger.Warn("poll cycle failed",
			zap.String("address", mailbox.Address),
			zap.Error(err))
		return
	}

	if result.AuthExpired {
		w.dispatcher.Orphan(mailbox)
		notice := "⚠️ Your mailbox session has expired.\nUse /start to create a new address."
		if err := w.dispatcher.SendNotice(ctx, mailbox, notice); err != nil {
			w.logger.Warn("auth-expired notice dropped",
				zap.String("address", mailbox.Address),
				zap.Error(err))
		}
		return
	}

	if err := w.dispatcher.Deliver(ctx, mailbox, result); err != nil {
		// 邮箱已孤立，剩余投递已放弃
		w.logger.Info("delivery aborted",
			zap.String("address", mailbox.Address),
			zap.Error(err))
	}
}

// TriggerPoll 立即对指定邮箱发起一个轮询周期（手动刷新）。
//
// 返回 false 表示邮箱不在活跃状态、已有在途周期或队列已满。
func (w *Watcher) TriggerPoll(address string) bool {
	mailbox, err := w.store.GetMailbox(address)
	if err != nil || mailbox.State != domain.MailboxActive {
		return false
	}
	if !w.claim(address) {
		return false
	}

	w.wg.Add(1)
	submitted := w.pool.TrySubmit(func() {
		defer w.wg.Done()
		defer w.release(address)
		w.pollMailbox(mailbox)
	})
	if !submitted {
		w.wg.Done()
		w.release(address)
	}
	return submitted
}

// claim 尝试占用邮箱的在途槽位。
func (w *Watcher) claim(address string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[address]; busy {
		return false
	}
	w.inflight[address] = struct{}{}
	return true
}

// release 释放邮箱的在途槽位。
func (w *Watcher) release(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, address)
}
