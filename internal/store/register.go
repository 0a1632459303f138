package store

import (
	"FlowTagger/internal/config"
	"FlowTagger/internal/factory"
	"FlowTagger/internal/model"
)

func init() {
	factory.RegisterWriter("sqlite", func(def config.WriterDef, cfg *config.Config) (model.Writer, error) {
		return NewWriter(def.SQLite)
	})
}
