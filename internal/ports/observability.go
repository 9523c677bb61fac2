package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	// IncCounter adds v to the named counter. Fields become metric labels.
	IncCounter(name string, v float64, fields ...Field)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64, fields ...Field)
}

type Field struct {
	Key   string
	Value any
}
