package builder

import (
	"log/slog"

	"github.com/geoforge/revtree/storage"
)

type Options struct {
	// Max number of concurrent bulk reads against the store while building. 1 means fully sequential.
	Concurrency int

	Logger *slog.Logger

	// [optional] receives Found/NotFound for reads, and Inserted for every tree the build writes
	Listener storage.BulkListener
}

func DefaultOptions() *Options {
	return &Options{
		Concurrency: 4,
	}
}
