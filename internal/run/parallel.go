package run

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/mcrun/internal/mc"
)

// Job is one independent sequence with its own random stream.
type Job struct {
	Name     string
	Sequence *Sequence
	RNG      *rand.Rand
}

// Parallel runs independent sequences concurrently. Each job must own its
// RNG and write to its own results namespace. The first failure cancels the
// remaining jobs.
func Parallel(ctx context.Context, jobs []Job) ([]Report, error) {
	if err := validateJobs(jobs); err != nil {
		return nil, err
	}

	reports := make([]Report, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		g.Go(func() error {
			rep, err := job.Sequence.Run(ctx, job.RNG)
			reports[i] = rep
			if err != nil {
				return fmt.Errorf("%s: %w", job.Name, err)
			}
			return nil
		})
	}
	return reports, g.Wait()
}

func validateJobs(jobs []Job) error {
	rngs := make(map[*rand.Rand]string)
	sequences := make(map[*Sequence]string)
	managers := make(map[*Manager]string)
	namespaces := make(map[string]string)
	for _, job := range jobs {
		if job.Sequence == nil || job.RNG == nil {
			return mc.ConfigError(job.Name, "job needs a sequence and an rng")
		}
		if other, ok := rngs[job.RNG]; ok {
			return mc.ConfigError(job.Name, "shares its rng with %s", other)
		}
		rngs[job.RNG] = job.Name
		if other, ok := sequences[job.Sequence]; ok {
			return mc.ConfigError(job.Name, "shares its sequence with %s", other)
		}
		sequences[job.Sequence] = job.Name
		if other, ok := managers[job.Sequence.Manager()]; ok {
			return mc.ConfigError(job.Name, "shares its run manager with %s", other)
		}
		managers[job.Sequence.Manager()] = job.Name
		if store := job.Sequence.Manager().Store(); store != nil {
			ns := store.Namespace()
			if other, ok := namespaces[ns]; ok {
				return mc.ConfigError(job.Name, "writes to %s, already used by %s", ns, other)
			}
			namespaces[ns] = job.Name
		}
	}
	return nil
}
