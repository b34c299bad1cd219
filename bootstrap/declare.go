package bootstrap

import (
	"fmt"

	"github.com/artpar/conveyr/config"
	"github.com/artpar/conveyr/core/runtime"
	"github.com/artpar/conveyr/core/store"
)

// Declare builds the objects cfg declares on rt. Stores come first, then
// setup runs, then services, then actions, so that code can use config
// stores and config actions can call endpoints declared in code.
func Declare(rt *runtime.Runtime, cfg *config.Config, setup SetupFunc) error {
	for _, sc := range cfg.Stores {
		if err := declareStore(rt, sc); err != nil {
			return err
		}
	}

	if setup != nil {
		if err := setup(rt); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}

	for _, sc := range cfg.Services {
		if err := declareService(rt, sc); err != nil {
			return err
		}
	}

	for _, ac := range cfg.Actions {
		if err := declareAction(rt, ac); err != nil {
			return err
		}
	}

	return nil
}

func declareStore(rt *runtime.Runtime, sc config.StoreConfig) error {
	fields, err := sc.FieldSpec()
	if err != nil {
		return fmt.Errorf("store %q: %w", sc.ID, err)
	}

	b, err := rt.CreateStore(sc.ID)
	if err != nil {
		return err
	}
	for _, f := range fields {
		b.DefinesField(f.Name, f.Spec)
	}
	_, err = b.Build()
	return err
}

func declareService(rt *runtime.Runtime, sc config.ServiceConfig) error {
	b, err := rt.CreateService(sc.ID)
	if err != nil {
		return err
	}

	stores := make([]*store.Store, 0, len(sc.Updates))
	for _, id := range sc.Updates {
		st, err := rt.Store(id)
		if err != nil {
			return fmt.Errorf("service %q updates: %w", sc.ID, err)
		}
		stores = append(stores, st)
	}
	b.UpdatesStores(stores...)

	for _, ep := range sc.Endpoints {
		h, err := rt.Handlers().Get(ep.Handler)
		if err != nil {
			return fmt.Errorf("service %q endpoint %q: %w", sc.ID, ep.ID, err)
		}
		b.ExposesEndpoint(ep.ID, h, ep.Params...)
	}

	if sc.Timeout != 0 {
		b.WithTimeout(sc.Timeout)
	}

	_, err = b.Build()
	return err
}

func declareAction(rt *runtime.Runtime, ac config.ActionConfig) error {
	spec, err := ac.PayloadSpec()
	if err != nil {
		return fmt.Errorf("action %q: %w", ac.ID, err)
	}

	b, err := rt.CreateAction(ac.ID)
	if err != nil {
		return err
	}
	b.AcceptsPayload(spec)
	for _, call := range ac.Calls {
		mapFn, err := call.MapFunc()
		if err != nil {
			return fmt.Errorf("action %q calls %s: %w", ac.ID, call.Endpoint, err)
		}
		b.CallsRef(call.Endpoint, mapFn)
	}
	_, err = b.Build()
	return err
}
