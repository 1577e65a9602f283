package engine

import (
	"context"

	"qgate/internal/errors"
	"qgate/internal/metriccache"
)

// MetaLevel is the stratification level of a meta-check.
const MetaLevel = 2

// MetaResult reports whether a level-1 decision reproduces from scratch.
type MetaResult struct {
	Level           int    `json:"level"`
	Reproduced      bool   `json:"reproduced"`
	ReferenceDigest string `json:"referenceDigest"`
	Digest          string `json:"digest"`
}

// MetaCheck is the level-2 analysis of a level-1 report: the same request
// is re-run on a cold private cache and the decision digests compared. It
// requires a completed level-1 run on this engine.
func (e *Engine) MetaCheck(ctx context.Context, req Request, reference *Report) (*MetaResult, error) {
	if reference == nil || reference.Decision == nil {
		return nil, errors.New(errors.ConfigurationError, "a level-1 report is required for a meta-check", nil)
	}
	if req.Policy == nil {
		return nil, errors.New(errors.ConfigurationError, "a policy is required", nil)
	}
	guard, err := e.guard(req.Policy)
	if err != nil {
		return nil, err
	}
	if err := e.ladder.EnterUnder(guard, MetaLevel); err != nil {
		return nil, err
	}

	req.AsOf = reference.AsOf
	cold := metriccache.New(metriccache.Options{Logger: e.logger})
	rep, err := e.run(ctx, req, MetaLevel, cold)
	if err != nil {
		e.ladder.Abandon(MetaLevel)
		return nil, err
	}
	e.ladder.Complete(MetaLevel)

	res := &MetaResult{
		Level:           MetaLevel,
		ReferenceDigest: reference.Decision.Digest(),
		Digest:          rep.Decision.Digest(),
	}
	res.Reproduced = res.Digest == res.ReferenceDigest
	if !res.Reproduced {
		e.logger.Warn("meta-check did not reproduce the level-1 decision",
			"reference", res.ReferenceDigest, "digest", res.Digest)
	}
	return res, nil
}
