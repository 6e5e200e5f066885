package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// 轮询指标
	PollCyclesTotal  prometheus.Counter
	PollCyclesFailed prometheus.Counter
	PollDuration     prometheus.Histogram
	PollSkipped      prometheus.Counter

	// 邮箱指标
	MailboxesCreated  prometheus.Counter
	MailboxesDeleted  prometheus.Counter
	MailboxesActive   prometheus.Gauge
	MailboxesOrphaned prometheus.Counter

	// 投递指标
	MessagesDelivered  prometheus.Counter
	DeliveryRetries    prometheus.Counter
	DeliveryFailures   prometheus.Counter
	ExpiryNoticesSent  prometheus.Counter
	FragmentsExtracted *prometheus.CounterVec
}

// NewMetrics 创建监控指标（promauto 自动注册到默认 registry）
func NewMetrics() *Metrics {
	return &Metrics{
		// 轮询指标
		PollCyclesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmbot_poll_cycles_total",
				Help: "Total number of mailbox poll cycles executed",
			},
		),

		PollCyclesFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmbot_poll_cycles_failed_total",
				Help: "Total number of poll cycles aborted by provider errors",
			},
		),

		PollDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tmbot_poll_duration_seconds",
				Help:    "Duration of a single mailbox poll cycle in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		PollSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmbot_poll_skipped_total",
				Help: "Total number of poll ticks skipped because the previous cycle was still running",
			},
		),

		// 邮箱指标
		MailboxesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmbot_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		MailboxesDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmbot_mailboxes_deleted_total",
				Help: "Total number of mailboxes discarded by users",
			},
		),

		MailboxesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tmbot_mailboxes_active",
				Help: "Number of mailboxes currently polled",
			},
		),

		MailboxesOrphaned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmbot_mailboxes_orphaned_total",
				Help: "Total number of mailboxes orphaned (chat unreachable or auth expired)",
			},
		),

		// 投递指标
		MessagesDelivered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmbot_messages_delivered_total",
				Help: "Total number of mail notifications delivered",
			},
		),

		DeliveryRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmbot_delivery_retries_total",
				Help: "Total number of delivery retry attempts",
			},
		),

		DeliveryFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmbot_delivery_failures_total",
				Help: "Total number of notifications dropped after exhausting retries",
			},
		),

		ExpiryNoticesSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tmbot_expiry_notices_sent_total",
				Help: "Total number of mailbox expiry notices delivered",
			},
		),

		FragmentsExtracted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tmbot_fragments_extracted_total",
				Help: "Total number of fragments extracted from mail bodies",
			},
			[]string{"kind"},
		),
	}
}

// HTTPHandler 返回 Prometheus 指标端点处理器。
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
