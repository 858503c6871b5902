package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// constant 1, labelled with version, commit and toolchain
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "classvote",
			Name:      "build_info",
			Help:      "classvote build information.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo registers classvote_build_info once and replaces any
// previously set labels, so a process exports exactly one series.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
