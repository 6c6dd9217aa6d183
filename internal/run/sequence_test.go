package run_test

import (
	"context"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/resultsio"
	"github.com/san-kum/mcrun/internal/run"
	"github.com/san-kum/mcrun/internal/stategen"
)

func newGenerator(nStates int, dependent bool) *stategen.IncrementalConditions {
	initial := mc.NewValueMap()
	initial.SetScalar("temperature", 300)
	inc := mc.NewValueMap()
	inc.SetScalar("temperature", 10)
	state := newState()
	g, err := stategen.NewIncrementalConditions(stategen.IncrementalParams{
		InitialConditions:   initial,
		ConditionsIncrement: inc,
		NStates:             nStates,
		DependentRuns:       dependent,
		Output:              stategen.DefaultOutputParams(),
	}, stategen.NewFixedConfigGenerator(state.Configuration))
	Expect(err).NotTo(HaveOccurred())
	return g
}

var _ = Describe("Sequence", func() {
	var (
		ctx    context.Context
		kernel *toyKernel
		store  *resultsio.Dir
	)

	newManager := func(opts ...run.Option) *run.Manager {
		m, err := run.NewManager(kernel, []*run.Fixture{newFixture("thermo", withMaxCount(25))}, run.ManagerParams{}, opts...)
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	BeforeEach(func() {
		ctx = context.Background()
		kernel = newToyKernel()
		var err error
		store, err = resultsio.NewDir(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
	})

	It("chains each run from the persisted final configuration of the previous one", func() {
		seq := run.NewSequence(newGenerator(3, true), newManager(run.WithResultsIO(store)))
		rep, err := seq.Run(ctx, rand.New(rand.NewSource(7)))
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Completed).To(Equal([]int{0, 1, 2}))

		runs, err := store.ReadCompletedRuns(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(3))
		for k := 1; k < 3; k++ {
			Expect(runs[k].InitialConfiguration.Occupation).To(Equal(runs[k-1].FinalConfiguration.Occupation),
				"run %d should start from run %d's final configuration", k, k-1)
		}
		Expect(runs[0].InitialConfiguration.Occupation).To(Equal(newState().Configuration.Occupation))
		temp, _ := runs[2].Conditions.Scalar("temperature")
		Expect(temp).To(Equal(320.0))
	})

	It("starts independent runs from the fixed configuration", func() {
		seq := run.NewSequence(newGenerator(2, false), newManager(run.WithResultsIO(store)))
		_, err := seq.Run(ctx, rand.New(rand.NewSource(7)))
		Expect(err).NotTo(HaveOccurred())

		runs, err := store.ReadCompletedRuns(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs[1].InitialConfiguration.Occupation).To(Equal(newState().Configuration.Occupation))
	})

	It("stops on the first failed run by default", func() {
		kernel.failRun = 1
		seq := run.NewSequence(newGenerator(3, false), newManager(run.WithResultsIO(store)))
		rep, err := seq.Run(ctx, rand.New(rand.NewSource(7)))
		Expect(err).To(MatchError(mc.ErrKernel))
		Expect(rep.Completed).To(Equal([]int{0}))

		runs, err := store.ReadCompletedRuns(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(2))
		Expect(runs[1].Status).To(Equal(mc.RunAborted))
	})

	It("skips failed runs when asked to", func() {
		kernel.failRun = 1
		seq := run.NewSequence(newGenerator(3, false), newManager(run.WithResultsIO(store)), run.WithOnError(run.OnErrorSkip))
		rep, err := seq.Run(ctx, rand.New(rand.NewSource(7)))
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Completed).To(Equal([]int{0, 2}))
		Expect(rep.Skipped).To(Equal([]int{1}))
		Expect(rep.Errors).To(HaveLen(1))
	})

	It("does not chain dependent runs from a skipped run", func() {
		kernel.failRun = 1
		kernel.failAtStep = 3
		seq := run.NewSequence(newGenerator(3, true), newManager(run.WithResultsIO(store)), run.WithOnError(run.OnErrorSkip))
		rep, err := seq.Run(ctx, rand.New(rand.NewSource(7)))
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Skipped).To(Equal([]int{1}))

		runs, err := store.ReadCompletedRuns(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(3))
		Expect(runs[1].Status).To(Equal(mc.RunAborted))
		Expect(runs[2].InitialConfiguration.Occupation).To(Equal(newState().Configuration.Occupation))
	})

	It("runs warm-up fixtures without storing them", func() {
		warmKernel := kernel
		warm, err := run.NewManager(warmKernel, []*run.Fixture{newFixture("equilibrate", withMaxCount(5))}, run.ManagerParams{})
		Expect(err).NotTo(HaveOccurred())

		seq := run.NewSequence(newGenerator(2, false), newManager(run.WithResultsIO(store)),
			run.WithBeforeFirstRun(warm), run.WithBeforeEachRun(warm))
		_, err = seq.Run(ctx, rand.New(rand.NewSource(7)))
		Expect(err).NotTo(HaveOccurred())

		// first run: before_first_run, before_each_run, run; second: before_each_run, run
		Expect(kernel.begins).To(Equal(5))
		runs, err := store.ReadCompletedRuns(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(2))
		labels, err := store.Labels(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(labels).To(Equal([]string{"thermo"}))
	})

	It("resumes after the stored runs", func() {
		first := run.NewSequence(newGenerator(2, true), newManager(run.WithResultsIO(store)))
		_, err := first.Run(ctx, rand.New(rand.NewSource(7)))
		Expect(err).NotTo(HaveOccurred())
		stored, err := store.ReadCompletedRuns(ctx)
		Expect(err).NotTo(HaveOccurred())

		resumed := run.NewSequence(newGenerator(3, true), newManager(run.WithResultsIO(store)))
		n, err := resumed.Resume(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		rep, err := resumed.Run(ctx, rand.New(rand.NewSource(8)))
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Completed).To(Equal([]int{2}))

		runs, err := store.ReadCompletedRuns(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(3))
		Expect(runs[2].InitialConfiguration.Occupation).To(Equal(stored[1].FinalConfiguration.Occupation))
	})

	It("requires a store to resume", func() {
		seq := run.NewSequence(newGenerator(1, false), newManager())
		_, err := seq.Resume(ctx)
		Expect(err).To(MatchError(mc.ErrConfiguration))
	})
})

var _ = Describe("Parallel", func() {
	newJob := func(name string, store resultsio.ResultsIO, rng *rand.Rand) run.Job {
		m, err := run.NewManager(newToyKernel(), []*run.Fixture{newFixture("thermo", withMaxCount(10))}, run.ManagerParams{},
			run.WithResultsIO(store))
		Expect(err).NotTo(HaveOccurred())
		return run.Job{Name: name, Sequence: run.NewSequence(newGenerator(2, true), m), RNG: rng}
	}
	newStore := func() *resultsio.Dir {
		d, err := resultsio.NewDir(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	It("runs independent sequences concurrently", func() {
		a, b := newStore(), newStore()
		reports, err := run.Parallel(context.Background(), []run.Job{
			newJob("a", a, rand.New(rand.NewSource(1))),
			newJob("b", b, rand.New(rand.NewSource(2))),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(2))
		for _, store := range []*resultsio.Dir{a, b} {
			runs, err := store.ReadCompletedRuns(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(2))
		}
	})

	It("rejects a shared rng", func() {
		rng := rand.New(rand.NewSource(1))
		_, err := run.Parallel(context.Background(), []run.Job{
			newJob("a", newStore(), rng),
			newJob("b", newStore(), rng),
		})
		Expect(err).To(MatchError(mc.ErrConfiguration))
	})

	It("rejects a shared results namespace", func() {
		store := newStore()
		_, err := run.Parallel(context.Background(), []run.Job{
			newJob("a", store, rand.New(rand.NewSource(1))),
			newJob("b", store, rand.New(rand.NewSource(2))),
		})
		Expect(err).To(MatchError(mc.ErrConfiguration))
	})
})
