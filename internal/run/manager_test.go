package run_test

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mcrun/internal/completion"
	"github.com/san-kum/mcrun/internal/mc"
	"github.com/san-kum/mcrun/internal/resultsio"
	"github.com/san-kum/mcrun/internal/run"
)

var _ = Describe("Manager", func() {
	var (
		ctx    context.Context
		kernel *toyKernel
		rng    *rand.Rand
		store  *resultsio.Dir
	)

	BeforeEach(func() {
		ctx = context.Background()
		kernel = newToyKernel()
		rng = rand.New(rand.NewSource(1))
		var err error
		store, err = resultsio.NewDir(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
	})

	It("terminates exactly at max_count when the run never converges", func() {
		m, err := run.NewManager(kernel, []*run.Fixture{newFixture("thermo", withMaxCount(100))}, run.ManagerParams{})
		Expect(err).NotTo(HaveOccurred())

		results, data, err := m.Run(ctx, 0, newState(), rng)
		Expect(err).NotTo(HaveOccurred())
		Expect(kernel.steps).To(Equal(100))
		Expect(data.Status).To(Equal(mc.RunCutoff))

		report := results.Fixtures[0].Completion
		Expect(report.Count).To(Equal(int64(100)))
		Expect(report.String()).To(Equal("forced by max_count"))
	})

	It("stops when the requested precision is reached", func() {
		m, err := run.NewManager(kernel, []*run.Fixture{newFixture("thermo", withPrecision(0.2))}, run.ManagerParams{})
		Expect(err).NotTo(HaveOccurred())

		results, data, err := m.Run(ctx, 0, newState(), rng)
		Expect(err).NotTo(HaveOccurred())
		Expect(data.Status).To(Equal(mc.RunConverged))
		report := results.Fixtures[0].Completion
		Expect(report.Status).To(Equal(completion.StatusConverged))
		Expect(report.NSamples).To(Equal(98))
		Expect(kernel.steps).To(Equal(97))
	})

	It("honors the global step cutoff", func() {
		maxSteps := int64(7)
		m, err := run.NewManager(kernel, []*run.Fixture{newFixture("thermo", withMaxCount(100))},
			run.ManagerParams{GlobalCutoff: run.GlobalCutoff{MaxSteps: &maxSteps}})
		Expect(err).NotTo(HaveOccurred())

		_, data, err := m.Run(ctx, 0, newState(), rng)
		Expect(err).NotTo(HaveOccurred())
		Expect(kernel.steps).To(Equal(7))
		Expect(data.Status).To(Equal(mc.RunCutoff))
	})

	DescribeTable("multiple fixtures",
		func(requireAll bool, wantSteps int) {
			fixtures := []*run.Fixture{
				newFixture("short", withMaxCount(10)),
				newFixture("long", withMaxCount(20)),
			}
			m, err := run.NewManager(kernel, fixtures, run.ManagerParams{RequireAllFixtures: requireAll})
			Expect(err).NotTo(HaveOccurred())

			results, _, err := m.Run(ctx, 0, newState(), rng)
			Expect(err).NotTo(HaveOccurred())
			Expect(kernel.steps).To(Equal(wantSteps))
			Expect(results.Fixtures).To(HaveLen(2))
			long, ok := results.Fixture("long")
			Expect(ok).To(BeTrue())
			Expect(long.Completion.Count).To(Equal(int64(wantSteps)))
		},
		Entry("any fixture stops the run", false, 10),
		Entry("all fixtures must complete", true, 20),
	)

	It("flushes partial results as aborted when the kernel faults", func() {
		kernel.failRun = 0
		kernel.failAtStep = 5
		m, err := run.NewManager(kernel, []*run.Fixture{newFixture("thermo", withMaxCount(100))}, run.ManagerParams{},
			run.WithResultsIO(store))
		Expect(err).NotTo(HaveOccurred())

		_, data, err := m.Run(ctx, 3, newState(), rng)
		Expect(err).To(MatchError(mc.ErrKernel))
		var runErr *mc.RunError
		Expect(err).To(BeAssignableToTypeOf(runErr))
		Expect(err.(*mc.RunError).RunIndex).To(Equal(3))
		Expect(data.Status).To(Equal(mc.RunAborted))

		runs, err := store.ReadCompletedRuns(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(1))
		Expect(runs[0].Status).To(Equal(mc.RunAborted))
		Expect(runs[0].Error).To(ContainSubstring("lattice exploded"))

		res, err := store.ReadResults(ctx, 3, "thermo")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Observations["energy"].NSamples()).To(Equal(6))
	})

	It("stops cooperatively when the context is cancelled", func() {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		kernel.onStep = func(step int) {
			if step == 10 {
				cancel()
			}
		}
		m, err := run.NewManager(kernel, []*run.Fixture{newFixture("thermo", withMaxCount(1000))}, run.ManagerParams{},
			run.WithResultsIO(store))
		Expect(err).NotTo(HaveOccurred())

		_, data, err := m.Run(cctx, 0, newState(), rng)
		Expect(err).To(MatchError(context.Canceled))
		Expect(kernel.steps).To(Equal(10))
		Expect(data.Status).To(Equal(mc.RunAborted))

		runs, err := store.ReadCompletedRuns(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(1))
	})

	It("writes the method log status file", func() {
		path := filepath.Join(store.Root(), run.StatusFile)
		m, err := run.NewManager(kernel, []*run.Fixture{newFixture("thermo", withMaxCount(50))}, run.ManagerParams{},
			run.WithMethodLog(run.NewMethodLog(path, 0, nil)))
		Expect(err).NotTo(HaveOccurred())

		_, _, err = m.Run(ctx, 2, newState(), rng)
		Expect(err).NotTo(HaveOccurred())

		status, err := run.ReadStatus(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Phase).To(Equal(run.PhaseFinished))
		Expect(status.RunIndex).To(Equal(2))
		Expect(status.Step).To(Equal(int64(50)))
		Expect(status.Fixtures).To(HaveLen(1))
		Expect(status.Fixtures[0].NSamples).To(Equal(51))
	})

	It("reports the elapsed clocktime and step of an aborted run", func() {
		kernel.failRun = 0
		kernel.failAtStep = 5
		kernel.onStep = func(int) { time.Sleep(2 * time.Millisecond) }
		path := filepath.Join(store.Root(), run.StatusFile)
		m, err := run.NewManager(kernel, []*run.Fixture{newFixture("thermo", withMaxCount(100))}, run.ManagerParams{},
			run.WithMethodLog(run.NewMethodLog(path, time.Hour, nil)))
		Expect(err).NotTo(HaveOccurred())

		_, _, err = m.Run(ctx, 0, newState(), rng)
		Expect(err).To(MatchError(mc.ErrKernel))

		status, err := run.ReadStatus(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Phase).To(Equal(run.PhaseAborted))
		Expect(status.Step).To(Equal(int64(5)))
		Expect(status.Clocktime).To(BeNumerically(">=", 0.01))
	})

	It("stores observations only for fixtures that keep them", func() {
		quiet := newFixture("quiet", withMaxCount(10), func(p *run.FixtureParams) {
			p.Output.WriteObservations = false
		})
		m, err := run.NewManager(kernel, []*run.Fixture{newFixture("thermo", withMaxCount(10)), quiet},
			run.ManagerParams{RequireAllFixtures: true}, run.WithResultsIO(store))
		Expect(err).NotTo(HaveOccurred())

		_, _, err = m.Run(ctx, 0, newState(), rng)
		Expect(err).NotTo(HaveOccurred())

		Expect(filepath.Join(store.RunDir(0), "thermo", "observations.json")).To(BeAnExistingFile())
		_, err = os.Stat(filepath.Join(store.RunDir(0), "quiet", "observations.json"))
		Expect(os.IsNotExist(err)).To(BeTrue())

		rows, err := store.Summary(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(2))
	})

	It("rejects invalid fixture sets", func() {
		_, err := run.NewManager(kernel, nil, run.ManagerParams{})
		Expect(err).To(MatchError(mc.ErrConfiguration))

		_, err = run.NewManager(kernel, []*run.Fixture{newFixture("a", withMaxCount(1)), newFixture("a", withMaxCount(2))}, run.ManagerParams{})
		Expect(err).To(MatchError(mc.ErrConfiguration))
	})
})

var _ = Describe("Fixture", func() {
	It("rejects a precision on an observable it does not sample", func() {
		p := run.FixtureParams{
			Label:      "thermo",
			Completion: completion.DefaultParams(),
			Output:     resultsio.DefaultWriteOptions(),
		}
		p.Sampling.SampleMode = "by_step"
		p.Sampling.SampleMethod = "linear"
		p.Sampling.Period = 1
		p.Sampling.SamplesPerPeriod = 1
		p.Sampling.SamplerNames = []string{"n_occupied"}
		p.Completion.RequestedPrecision = map[string]completion.Precision{"energy": {Abs: completion.Ptr(0.1)}}

		_, err := run.NewFixture(p, toyFunctions())
		Expect(err).To(MatchError(mc.ErrSampling))
	})

	It("rejects unknown sampling functions", func() {
		p := run.FixtureParams{Label: "thermo", Completion: completion.DefaultParams()}
		p.Sampling.SampleMode = "by_pass"
		p.Sampling.SampleMethod = "linear"
		p.Sampling.Period = 1
		p.Sampling.SamplesPerPeriod = 1
		p.Sampling.SamplerNames = []string{"heat_capacity"}
		p.Completion.Cutoff.MaxCount = completion.Ptr[int64](10)

		_, err := run.NewFixture(p, toyFunctions())
		Expect(err).To(MatchError(mc.ErrSampling))
	})
})
