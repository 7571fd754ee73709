package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookmarkCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rxportal",
			Subsystem: "cache",
			Name:      "bookmark_entries",
			Help:      "当前收藏缓存中的条目数量。",
		},
	)

	bookmarkToggleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rxportal",
			Subsystem: "cache",
			Name:      "bookmark_toggles_total",
			Help:      "收藏翻转操作总数。",
		},
		[]string{"action"},
	)
)

// SetBookmarkCacheSize 更新收藏缓存条目数。
func SetBookmarkCacheSize(n int) {
	bookmarkCacheSize.Set(float64(n))
}

// IncBookmarkToggle 记录一次收藏翻转（action: add / remove）。
func IncBookmarkToggle(action string) {
	bookmarkToggleTotal.WithLabelValues(action).Inc()
}
