package obs

import "github.com/prometheus/client_golang/prometheus"

// RegisterBuildInfo exposes build_info{version,commit} 1 on reg.
func RegisterBuildInfo(reg prometheus.Registerer, version, commit string) error {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "rhgestor API build information.",
	}, []string{"version", "commit"})
	if err := reg.Register(g); err != nil {
		return err
	}
	g.WithLabelValues(version, commit).Set(1)
	return nil
}
