package ingest

type Config struct {
	// IngestionParallelism is the number of workers processing queued
	// items concurrently. Items belonging to the same collection are
	// submitted one at a time upstream, so this bounds cross-collection
	// parallelism only.
	IngestionParallelism int `yaml:"parallelism" env:"INGEST_PARALLELISM" env-default:"2"`

	// KeepLocalFiles prevents cleanup of the downloaded video and
	// extracted audio after a successful upload. Useful for debugging
	// pipeline output locally.
	KeepLocalFiles bool `yaml:"keep_local_files" env:"INGEST_KEEP_LOCAL_FILES" env-default:"false"`
}
