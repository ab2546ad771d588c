// Package heuristic runs ordered, named extraction strategies against
// unstandardized markup. Each strategy either declines or returns a value
// tagged with a confidence in [0,1]; the first acceptable answer wins.
package heuristic

// Strategy is one named way of deriving Out from In.
type Strategy[In, Out any] struct {
	Name  string
	Match func(in In) (Out, float64, bool)
}

// Result is the answer of the winning strategy.
type Result[Out any] struct {
	Value      Out
	Confidence float64
	Strategy   string
}

// Trace observes every attempt, including declined ones.
type Trace func(strategy string, matched bool, confidence float64)

// Pipeline tries strategies in priority order.
type Pipeline[In, Out any] struct {
	strategies    []Strategy[In, Out]
	minConfidence float64
}

// New builds a pipeline. Strategies are tried in the order given.
func New[In, Out any](strategies ...Strategy[In, Out]) *Pipeline[In, Out] {
	return &Pipeline[In, Out]{strategies: strategies}
}

// WithMinConfidence makes the pipeline skip matches scoring below c.
func (p *Pipeline[In, Out]) WithMinConfidence(c float64) *Pipeline[In, Out] {
	p.minConfidence = c
	return p
}

// Names lists the strategies in priority order.
func (p *Pipeline[In, Out]) Names() []string {
	names := make([]string, 0, len(p.strategies))
	for _, s := range p.strategies {
		names = append(names, s.Name)
	}
	return names
}

// Run returns the first strategy result meeting the confidence floor.
func (p *Pipeline[In, Out]) Run(in In, trace Trace) (Result[Out], bool) {
	for _, s := range p.strategies {
		if s.Match == nil {
			continue
		}
		out, confidence, ok := s.Match(in)
		accepted := ok && confidence >= p.minConfidence
		if trace != nil {
			trace(s.Name, accepted, confidence)
		}
		if accepted {
			return Result[Out]{Value: out, Confidence: confidence, Strategy: s.Name}, true
		}
	}
	var zero Result[Out]
	return zero, false
}
