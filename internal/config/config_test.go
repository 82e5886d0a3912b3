package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/draftd/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StorageDriver, convey.ShouldEqual, config.StorageMemory)
			convey.So(cfg.PersistWorkers, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.CountdownSeconds, convey.ShouldEqual, 10)
			convey.So(cfg.DefaultCaptains, convey.ShouldEqual, 2)
			convey.So(cfg.DefaultRosterSize, convey.ShouldEqual, 5)
			convey.So(cfg.DefaultBudget, convey.ShouldEqual, 100)
			convey.So(cfg.DefaultTurnTimeoutSec, convey.ShouldEqual, 30)
			convey.So(cfg.DefaultBidResetSec, convey.ShouldEqual, 10)
			convey.So(cfg.ArchiveRetention(), convey.ShouldEqual, 30*24*time.Hour)
			convey.So(cfg.Countdown(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with a single bad field", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":       func(c *config.Config) { c.Addr = " " },
			"unknown driver":   func(c *config.Config) { c.StorageDriver = "postgres" },
			"sqlite w/o path":  func(c *config.Config) { c.StorageDriver = config.StorageSQLite; c.SQLitePath = "" },
			"redis w/o addr":   func(c *config.Config) { c.StorageDriver = config.StorageRedis; c.RedisAddr = "" },
			"no writers":       func(c *config.Config) { c.PersistWorkers = 0 },
			"no writer queue":  func(c *config.Config) { c.PersistQueueSize = 0 },
			"no mailbox":       func(c *config.Config) { c.MailboxSize = 0 },
			"no countdown":     func(c *config.Config) { c.CountdownSeconds = 0 },
			"negative sweep":   func(c *config.Config) { c.ArchiveSweepIntervalSec = -1 },
			"history disabled": func(c *config.Config) { c.MaxHistory = 0 },
		}
		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			_ = name
		}
	})
}
