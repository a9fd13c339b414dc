package reputation

// DatasetLoader streams labeled observations for bulk ingestion — a
// stand-in for a CSV/Parquet loader. The core does not implement one;
// callers adapt their ingestion pipeline to this interface and drive
// ReportMalicious themselves.
type DatasetLoader interface {
	// Next returns the next (ip, label, observedAt) triple. ok is false
	// once the stream is exhausted; err reports a read failure.
	Next() (ip string, label string, observedAt int64, ok bool, err error)
}

// QuerySource drives FastCheck from an external stream — a stand-in for
// a packet capture or a request-sampling tap.
type QuerySource interface {
	// Next returns the next IP to check. ok is false once the source is
	// exhausted; err reports a read failure.
	Next() (ip string, ok bool, err error)
}

// MetricsSink receives stats snapshots for an external observability
// pipeline. The core never pushes to one itself; callers poll Stats()
// and forward it on their own cadence.
type MetricsSink interface {
	Report(Stats)
}
