// Package metrics объявляет метрики Prometheus для журнала монет, заказов и расчётов.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerEntries считает созданные записи журнала монет.
	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_ledger_entries_total",
		Help: "Coin ledger entries written, labeled by type and status",
	}, []string{"type", "status"})

	// OrdersCreated считает оформленные заказы.
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_orders_created_total",
		Help: "Orders created, labeled by payment method",
	}, []string{"payment_method"})

	// Settlements считает обработанные сигналы об оплате.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_settlements_total",
		Help: "Payment settlement signals, labeled by source and outcome",
	}, []string{"source", "outcome"})

	// SignatureFailures считает ответы шлюза с неверной подписью.
	SignatureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_gateway_signature_failures_total",
		Help: "Gateway returns and callbacks rejected for an invalid signature",
	}, []string{"source"})

	// SideEffectFailures считает неудачные побочные действия после оплаты.
	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_side_effect_failures_total",
		Help: "Best-effort side effects that failed, labeled by kind",
	}, []string{"kind"})

	// HTTPRequestDuration измеряет время обработки HTTP-запросов.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookstore_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "status"})
)
