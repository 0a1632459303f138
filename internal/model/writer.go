package model

// Writer defines a generic interface for publishing a finished run result.
type Writer interface {
	// Write persists the result. timestamp identifies the run.
	Write(result *Result, timestamp string) error

	// Type returns the writer type as named in the config file.
	Type() string

	// Close releases any connection held by the writer.
	Close() error
}
