package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("observability.metrics",
	fx.Provide(func() *Ingest {
		return NewIngest(prometheus.DefaultRegisterer)
	}),
	fx.Provide(func() *HTTPMetrics {
		return NewHTTP(prometheus.DefaultRegisterer)
	}),
)
