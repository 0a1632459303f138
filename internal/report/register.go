package report

import (
	"FlowTagger/internal/config"
	"FlowTagger/internal/factory"
	"FlowTagger/internal/model"
)

func init() {
	factory.RegisterWriter("gob", func(def config.WriterDef, cfg *config.Config) (model.Writer, error) {
		return NewGobWriter(def.Gob.RootPath), nil
	})
	factory.RegisterWriter("clickhouse", func(def config.WriterDef, cfg *config.Config) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse)
	})
	factory.RegisterWriter("nats", func(def config.WriterDef, cfg *config.Config) (model.Writer, error) {
		return NewNATSWriter(def.NATS, cfg.Report.Order)
	})
}
