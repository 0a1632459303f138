package factory

import (
	"errors"
	"fmt"
	"log"

	"FlowTagger/internal/config"
	"FlowTagger/internal/model"
)

// WriterFactory builds a writer from its config entry. cfg is the whole
// configuration, for settings shared by all writers such as the report order.
type WriterFactory func(def config.WriterDef, cfg *config.Config) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// CreateWriters builds every enabled writer in cfg, in config order. If one
// cannot be built, the writers created so far are closed and an error is returned.
func CreateWriters(cfg *config.Config) ([]model.Writer, error) {
	var writers []model.Writer

	for _, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}
		log.Printf("Creating writer of type: '%s'", def.Type)

		factory, ok := registry[def.Type]
		if !ok {
			return nil, errors.Join(fmt.Errorf("unknown writer type: '%s'", def.Type), closeAll(writers))
		}

		writer, err := factory(def, cfg)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("error creating writer type '%s': %w", def.Type, err), closeAll(writers))
		}
		writers = append(writers, writer)
	}

	return writers, nil
}

func closeAll(writers []model.Writer) error {
	var errs []error
	for _, w := range writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}
