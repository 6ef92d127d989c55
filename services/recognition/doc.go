// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recognition is an online goal recognizer.
//
// # Description
//
// A Recognizer watches an agent act in a planning domain and maintains,
// after every observed action, a probability distribution over the goal
// facts the agent may be pursuing. Candidate goals are partitioned into
// mutex groups; each group carries a synthetic NoneOfGroup member for "no
// member of this group is a goal".
//
// Each observation runs one step of the pipeline:
//
//	heuristics -> scheduler -> history -> stability -> durable facts
//	           -> Bayesian update -> verify -> journal
//
// Distance estimates are the only concurrent part. They run on a bounded
// worker pool owned by the heuristic.Manager; everything else runs on the
// caller's goroutine.
//
// # Usage
//
//	model, err := domain.Decode(f)
//	rec, err := recognition.New(ctx, model, recognition.DefaultConfig())
//	defer rec.Terminate()
//	for _, a := range observed {
//	    if err := rec.OnActionObserved(ctx, a); err != nil {
//	        return err
//	    }
//	}
//	hyp, err := rec.ImmediateHypothesis()
//
// # Thread Safety
//
// A Recognizer processes observations strictly in order and is not safe for
// concurrent use, except Terminate, which may be called from any goroutine.
package recognition
