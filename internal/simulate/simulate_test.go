package simulate

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/draftd/internal/adapters/http/api"
	service "github.com/okian/draftd/internal/app"
	"github.com/okian/draftd/internal/config"
	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func completedView() *draft.View {
	return &draft.View{
		Status:    draft.StatusCompleted,
		PickCount: 4,
		Teams: []draft.TeamView{
			{CaptainID: "a", BudgetRemaining: 70, Spent: 30, Players: []draft.Pick{
				{PlayerID: "p1", Amount: 10, PickNumber: 1},
				{PlayerID: "p3", Amount: 20, PickNumber: 3},
			}},
			{CaptainID: "b", BudgetRemaining: 95, Spent: 5, Players: []draft.Pick{
				{PlayerID: "p2", Amount: 2, PickNumber: 2},
				{PlayerID: "p4", Amount: 3, PickNumber: 4},
			}},
		},
	}
}

func TestVerify(t *testing.T) {
	cfg := Config{BaseURL: "x", Sessions: 1, Captains: 2, RosterSize: 2, Budget: 100}

	Convey("Given a finished session", t, func() {
		v := completedView()

		Convey("A consistent draft passes", func() {
			So(Verify(v, cfg), ShouldBeNil)
		})

		Convey("A cancelled draft fails", func() {
			v.Status = draft.StatusCancelled
			v.CancelReason = "requested"
			So(Verify(v, cfg).Error(), ShouldContainSubstring, "requested")
		})

		Convey("A short roster fails", func() {
			v.Teams[1].Players = v.Teams[1].Players[:1]
			So(Verify(v, cfg), ShouldNotBeNil)
		})

		Convey("A player drafted twice fails", func() {
			v.Teams[1].Players[0].PlayerID = "p1"
			So(Verify(v, cfg).Error(), ShouldContainSubstring, "p1")
		})

		Convey("Budget leaks fail", func() {
			v.Teams[0].BudgetRemaining = 71
			So(Verify(v, cfg).Error(), ShouldContainSubstring, "budget")
		})

		Convey("A reused pick number fails", func() {
			v.Teams[1].Players[1].PickNumber = 1
			So(Verify(v, cfg), ShouldNotBeNil)
		})
	})
}

func TestDecide(t *testing.T) {
	Convey("Given an active turn", t, func() {
		v := &draft.View{
			Settings: draft.Settings{RosterSize: 3},
			Teams:    []draft.TeamView{{CaptainID: "a", BudgetRemaining: 5}},
		}
		rng := rand.New(rand.NewPCG(1, 2))

		Convey("Bids always leave one unit per open slot", func() {
			for i := 0; i < 200; i++ {
				act := decide(v, "a", rng, 0)
				So(act.skip, ShouldBeFalse)
				So(act.amount, ShouldBeBetweenOrEqual, 1, 3)
			}
		})

		Convey("A captain who already skipped this round bids", func() {
			v.Teams[0].SkippedRound = true
			for i := 0; i < 50; i++ {
				So(decide(v, "a", rng, 0.99).skip, ShouldBeFalse)
			}
		})

		Convey("A high skip rate skips", func() {
			So(decide(v, "a", rng, 0.999999).skip, ShouldBeTrue)
		})
	})
}

func TestConfigValidate(t *testing.T) {
	Convey("Given simulation settings", t, func() {
		cfg := Config{BaseURL: DefaultBaseURL, Sessions: 1, Captains: 2, RosterSize: 2, Budget: 10}
		So(cfg.Validate(), ShouldBeNil)

		bad := cfg
		bad.Captains = 1
		So(bad.Validate(), ShouldNotBeNil)

		bad = cfg
		bad.Budget = 1
		So(bad.Validate(), ShouldNotBeNil)

		bad = cfg
		bad.SkipRate = 1
		So(bad.Validate(), ShouldNotBeNil)
	})
}

func TestRunAgainstService(t *testing.T) {
	if testing.Short() {
		t.Skip("drives real timers")
	}

	Convey("Given a running draft service", t, func() {
		cfg := config.New()
		cfg.CountdownSeconds = 1
		cfg.ArchiveSweepIntervalSec = 0
		svc := service.New(service.WithConfig(cfg), service.WithLogger(logger.Nop()))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc, svc).Register(context.Background(), mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		Convey("Simulated drafts complete consistently", func() {
			runner, err := NewRunner(Config{
				BaseURL:    srv.URL,
				Sessions:   2,
				Captains:   2,
				RosterSize: 1,
				Budget:     50,
				Seed:       7,
			}, logger.Nop())
			So(err, ShouldBeNil)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			stats, err := runner.Run(ctx)

			So(err, ShouldBeNil)
			So(stats.SessionsStarted, ShouldEqual, 2)
			So(stats.SessionsCompleted, ShouldEqual, 2)
			So(stats.Bids, ShouldEqual, 4)
		})
	})
}
