package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wastedraft_status_transitions_total",
			Help: "Record status transitions by target status",
		},
		[]string{"to"},
	)

	attachmentOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wastedraft_attachment_operations_total",
			Help: "Attachment operations by kind and result",
		},
		[]string{"op", "result"},
	)

	attachmentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wastedraft_attachment_bytes_total",
		Help: "Bytes written to attachment storage",
	})
)

func observeAttachment(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	attachmentOps.WithLabelValues(op, result).Inc()
}
