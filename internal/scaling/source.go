package scaling

import (
	gnet "github.com/shirou/gopsutil/v3/net"
)

// SourceFunc adapts a function to LoadSource.
type SourceFunc func() (LoadMetrics, error)

func (f SourceFunc) Collect() (LoadMetrics, error) { return f() }

// SystemSource decorates a base load source with the host's TCP
// connection count. Throughput and error metrics still come from the
// gateway's own counters.
type SystemSource struct {
	base LoadSource
}

func NewSystemSource(base LoadSource) *SystemSource {
	return &SystemSource{base: base}
}

func (s *SystemSource) Collect() (LoadMetrics, error) {
	m, err := s.base.Collect()
	if err != nil {
		return LoadMetrics{}, err
	}
	if conns, cerr := gnet.Connections("tcp"); cerr == nil {
		m.ActiveConnections = len(conns)
	}
	return m, nil
}
