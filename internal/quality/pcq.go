package quality

import (
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"qgate/internal/output"
	"qgate/internal/policy"
)

// ModuleScore is the Q-score of one module.
type ModuleScore struct {
	Name  string  `json:"name"`
	Files int     `json:"files"`
	Q     float64 `json:"q"`
	Ratio float64 `json:"ratio"`
	// Excluded modules have no healthy files and do not take part in the minimum.
	Excluded bool `json:"excluded,omitempty"`
}

// PCQResult is the piecewise minimum quality across a partition.
type PCQResult struct {
	Ratio      float64       `json:"ratio"`
	MeanRatio  float64       `json:"meanRatio"`
	Bottleneck string        `json:"bottleneck,omitempty"`
	Modules    []ModuleScore `json:"modules"`
}

// PCQ computes min(Qₘ)/QMax over the modules of partition. Each module's Q is
// Calculate restricted to its files, so a weak module can never be offset by
// strong ones. Modules without healthy files are excluded from the minimum;
// an empty partition yields 1. Modules are scored in parallel and reported in
// name order; ties for the bottleneck go to the first name.
func PCQ(s *State, p *policy.Policy, partition []Module, asOf time.Time) PCQResult {
	mods := append([]Module(nil), partition...)
	sort.Slice(mods, func(i, j int) bool { return mods[i].Name < mods[j].Name })

	scores := make([]ModuleScore, len(mods))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, m := range mods {
		g.Go(func() error {
			sub := s.Restrict(m.Paths)
			healthy := len(sub.Healthy())
			if healthy == 0 {
				scores[i] = ModuleScore{Name: m.Name, Ratio: 1, Excluded: true}
				return nil
			}
			q := Calculate(sub, p, asOf).Q
			scores[i] = ModuleScore{
				Name:  m.Name,
				Files: healthy,
				Q:     q,
				Ratio: output.RoundFloat(q / p.QMax),
			}
			return nil
		})
	}
	_ = g.Wait()

	res := PCQResult{Ratio: 1, MeanRatio: 1, Modules: scores}
	minQ := p.QMax
	var sum float64
	var counted int
	for _, ms := range scores {
		if ms.Excluded {
			continue
		}
		if counted == 0 || ms.Q < minQ {
			minQ = ms.Q
			res.Bottleneck = ms.Name
		}
		sum += ms.Q
		counted++
	}
	if counted > 0 {
		res.Ratio = output.RoundFloat(minQ / p.QMax)
		res.MeanRatio = output.RoundFloat(sum / float64(counted) / p.QMax)
	}
	return res
}
