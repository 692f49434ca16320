package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Счётчики ключевых событий платформы. Регистрируются в DefaultRegisterer,
// отдаются через /metrics.
var (
	ContractTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contract_transitions_total",
		Help: "Количество переходов статуса контракта.",
	}, []string{"to"})

	EscrowEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_events_total",
		Help: "Количество операций с escrow (open, adjust, release, refund).",
	}, []string{"event"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messages_sent_total",
		Help: "Количество отправленных сообщений чата.",
	})

	NotificationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Количество созданных уведомлений.",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections",
		Help: "Текущее количество открытых WebSocket соединений.",
	})
)
