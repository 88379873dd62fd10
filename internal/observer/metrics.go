package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true

	eventLabels       = []string{"event_type", "company_id"}
	eventActionLabels = []string{"event_type", "company_id", "action", "error_type"}

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_events_received_total",
			Help: "Events received from JetStream.",
		},
		eventLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_events_processed_total",
			Help: "Events processed and acknowledged.",
		},
		eventLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_events_failed_total",
			Help: "Events whose handler returned an error.",
		},
		eventLabels,
	)
	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_router_event_processing_duration_seconds",
			Help:    "Time spent handling one event end to end.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		eventLabels,
	)
	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_event_actions_total",
			Help: "Ack, nak and DLQ decisions taken after handling an event.",
		},
		eventActionLabels,
	)

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_router_db_operation_duration_seconds",
			Help:    "Duration of repository operations including retries.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"operation", "entity", "company_id", "status"},
	)

	RoutingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_routing_decisions_total",
			Help: "Routing outcomes: bot, agent or pending.",
		},
		[]string{"company_id", "outcome"},
	)
	RoutingFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_routing_failures_total",
			Help: "Routing decisions that failed closed to pending.",
		},
		[]string{"company_id", "stage"},
	)
	RoutingLockWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conversation_router_routing_lock_wait_seconds",
			Help:    "Time spent waiting for the per-conversation routing lock.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	ChatbotEscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_chatbot_escalations_total",
			Help: "Bot conversations handed to humans, by reason.",
		},
		[]string{"company_id", "reason"},
	)
	AICompletionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_router_ai_completion_duration_seconds",
			Help:    "Latency of completion calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"status"},
	)

	CampaignRecipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_campaign_recipients_total",
			Help: "Campaign recipients processed, by result.",
		},
		[]string{"company_id", "result"},
	)
	CampaignRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_campaign_runs_total",
			Help: "Campaign runs finished, by final status.",
		},
		[]string{"company_id", "status"},
	)
	CampaignsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversation_router_campaigns_running",
			Help: "Campaigns currently in the running registry.",
		},
	)

	AgentsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversation_router_agents_online",
			Help: "Agents with at least one live connection.",
		},
	)

	ChannelSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_channel_sends_total",
			Help: "Outbound sends by channel and result.",
		},
		[]string{"channel", "result"},
	)

	DlqTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_dlq_tasks_total",
			Help: "DLQ tasks handled by the replay worker, by result.",
		},
		[]string{"company_id", "result"},
	)
	DlqFetchErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_router_dlq_fetch_errors_total",
			Help: "Failed fetches from the DLQ pull consumer.",
		},
	)
)

// InitMetrics toggles collection. Metrics are registered by promauto at init.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

func IncEventsReceived(eventType, tenant string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeTenant(tenant)).Inc()
}

func IncEventsProcessed(eventType, tenant string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeTenant(tenant)).Inc()
}

func IncEventsFailed(eventType, tenant string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeTenant(tenant)).Inc()
}

func ObserveEventProcessingDuration(eventType, tenant string, d time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant)).Observe(d.Seconds())
}

func IncEventProcessingAction(eventType, tenant, action, errorType string) {
	if !metricsEnabled {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeTenant(tenant), action, SanitizeErrorType(errorType)).Inc()
}

// ObserveDbOperationDuration records one repository call.
func ObserveDbOperationDuration(operation, entity, companyID string, d time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(companyID), status).Observe(d.Seconds())
}

func IncRoutingDecision(companyID, outcome string) {
	if !metricsEnabled {
		return
	}
	RoutingDecisionsTotal.WithLabelValues(sanitizeTenant(companyID), outcome).Inc()
}

func IncRoutingFailure(companyID, stage string) {
	if !metricsEnabled {
		return
	}
	RoutingFailuresTotal.WithLabelValues(sanitizeTenant(companyID), stage).Inc()
}

func ObserveRoutingLockWait(d time.Duration) {
	if !metricsEnabled {
		return
	}
	RoutingLockWaitSeconds.Observe(d.Seconds())
}

func IncChatbotEscalation(companyID, reason string) {
	if !metricsEnabled {
		return
	}
	ChatbotEscalationsTotal.WithLabelValues(sanitizeTenant(companyID), reason).Inc()
}

func ObserveAICompletion(d time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	AICompletionDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
}

func IncCampaignRecipient(companyID, result string) {
	if !metricsEnabled {
		return
	}
	CampaignRecipientsTotal.WithLabelValues(sanitizeTenant(companyID), result).Inc()
}

func IncCampaignRun(companyID, status string) {
	if !metricsEnabled {
		return
	}
	CampaignRunsTotal.WithLabelValues(sanitizeTenant(companyID), status).Inc()
}

func SetCampaignsRunning(n int) {
	if !metricsEnabled {
		return
	}
	CampaignsRunning.Set(float64(n))
}

func SetAgentsOnline(n int) {
	if !metricsEnabled {
		return
	}
	AgentsOnline.Set(float64(n))
}

func IncChannelSend(channel, result string) {
	if !metricsEnabled {
		return
	}
	ChannelSendsTotal.WithLabelValues(channel, result).Inc()
}

func IncDlqTask(companyID, result string) {
	if !metricsEnabled {
		return
	}
	DlqTasksTotal.WithLabelValues(sanitizeTenant(companyID), result).Inc()
}

func IncDlqFetchError() {
	if !metricsEnabled {
		return
	}
	DlqFetchErrorsTotal.Inc()
}

// SanitizeErrorType buckets an error message into a low-cardinality label.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}
	s := strings.ToLower(errStr)
	switch {
	case strings.Contains(s, "invariant violation"), strings.Contains(s, "already has an active assignment"):
		return "invariant"
	case strings.Contains(s, "rate limit"):
		return "rate_limited"
	case strings.Contains(s, "collaborator unavailable"):
		return "collaborator"
	case strings.Contains(s, "database"), strings.Contains(s, "sql"), strings.Contains(s, "duplicate"), strings.Contains(s, "constraint"):
		return "database"
	case strings.Contains(s, "validation failed"), strings.Contains(s, "bad request"), strings.Contains(s, "invalid"):
		return "validation"
	case strings.Contains(s, "not found"):
		return "not_found"
	case strings.Contains(s, "nats"), strings.Contains(s, "jetstream"):
		return "nats"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return "timeout"
	case strings.Contains(s, "unmarshal"), strings.Contains(s, "json"):
		return "unmarshal"
	case strings.Contains(s, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
