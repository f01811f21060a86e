package gauge

import "github.com/pkg/errors"

// Error kinds. Every failure inside the gauge is one of these; none of them
// stops the polling loop.
var (
	// ErrTransport means a register access failed after its retry budget.
	ErrTransport = errors.New("gauge: register transport failure")

	// ErrRangeAnomaly means the accumulator sat on an overflow rail or
	// diverged from the tracked capacity.
	ErrRangeAnomaly = errors.New("gauge: accumulator range anomaly")

	// ErrInterpolationDegenerate means a table bracket had zero width.
	ErrInterpolationDegenerate = errors.New("gauge: degenerate table bracket")

	// ErrNotReady is returned by operations that need an initialized gauge.
	ErrNotReady = errors.New("gauge: not initialized")
)

// transportErr tags a chip error as ErrTransport while keeping its text.
func transportErr(err error, op string) error {
	return &kindError{kind: ErrTransport, err: errors.Wrap(err, op)}
}

// transport counts a chip failure and tags it as ErrTransport.
func (g *Gauge) transport(err error, op string) error {
	g.diag.TransportErrors++
	return transportErr(err, op)
}

// rangeAnomaly counts an accumulator anomaly and describes it.
func (g *Gauge) rangeAnomaly(format string, args ...interface{}) error {
	g.diag.RangeAnomalies++
	return &kindError{kind: ErrRangeAnomaly, err: errors.Errorf(format, args...)}
}

// degenerate counts a lookup that hit a zero-width bracket.
func (g *Gauge) degenerate(voltage, current, temperature int32) error {
	g.diag.DegenerateLookups++
	return &kindError{kind: ErrInterpolationDegenerate, err: errors.Errorf(
		"rc lookup at %d mV, %d mA, %d dC", voltage, current, temperature)}
}

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string        { return e.err.Error() }
func (e *kindError) Unwrap() error        { return e.err }
func (e *kindError) Is(target error) bool { return target == e.kind }
