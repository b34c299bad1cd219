package main

import (
	"fmt"
	"time"

	"github.com/artpar/conveyr/core/runtime"
	"github.com/artpar/conveyr/core/service"
)

// registerHandlers registers the counter handlers the example config binds
// to. They update the "count" field of the "counts" store.
func registerHandlers(rt *runtime.Runtime) error {
	rt.RegisterHandler("increment", func(f *service.Frame) error {
		by, ok := f.Payload().(float64)
		if !ok {
			return fmt.Errorf("increment: payload %T is not a number", f.Payload())
		}
		return f.Update("counts", "count", func(v any) any {
			n, _ := v.(float64)
			return n + by
		})
	})

	rt.RegisterHandler("reset", func(f *service.Frame) error {
		return f.Update("counts", "count", func(any) any { return float64(0) })
	})

	// delayed_increment completes after payload.delay_ms, which lets the
	// handler timeout be observed.
	rt.RegisterHandler("delayed_increment", func(f *service.Frame) error {
		p, _ := f.Payload().(map[string]any)
		by, _ := p["by"].(float64)
		delay, _ := p["delay_ms"].(float64)

		time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
			f.Done(f.Update("counts", "count", func(v any) any {
				n, _ := v.(float64)
				return n + by
			}))
		})
		return nil
	})

	return nil
}
