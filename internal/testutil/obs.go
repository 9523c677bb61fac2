// Package testutil holds fakes shared by the agent's package tests.
package testutil

import (
	"sync"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Obs records everything reported through ports.Observability.
type Obs struct {
	mu        sync.Mutex
	Infos     []string
	Errors    []error
	Criticals []error
	Counters  map[string]float64
	Gauges    map[string]float64
}

func NewObs() *Obs {
	return &Obs{
		Counters: make(map[string]float64),
		Gauges:   make(map[string]float64),
	}
}

func (o *Obs) LogInfo(msg string, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Infos = append(o.Infos, msg)
}

func (o *Obs) LogError(_ string, err error, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Errors = append(o.Errors, err)
}

func (o *Obs) LogCritical(_ string, err error, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Criticals = append(o.Criticals, err)
}

func (o *Obs) IncCounter(name string, v float64, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Counters == nil {
		o.Counters = make(map[string]float64)
	}
	o.Counters[name] += v
}

func (o *Obs) ObserveLatency(string, float64) {}

func (o *Obs) SetGauge(name string, v float64, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Gauges == nil {
		o.Gauges = make(map[string]float64)
	}
	o.Gauges[name] = v
}

func (o *Obs) ErrorCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Errors)
}

func (o *Obs) Counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Counters[name]
}

var _ ports.Observability = (*Obs)(nil)
