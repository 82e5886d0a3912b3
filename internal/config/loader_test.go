package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/draftd/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			t.Setenv(config.EnvConfigFile, "")
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.MailboxSize, convey.ShouldEqual, 256)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			t.Setenv("DRAFTD_ADDR", ":8080")
			t.Setenv("DRAFTD_MAILBOX_SIZE", "64")
			t.Setenv("DRAFTD_STORAGE_DRIVER", "sqlite")
			t.Setenv("DRAFTD_SQLITE_PATH", "/tmp/draft.db")
			t.Setenv("DRAFTD_COUNTDOWN_SECONDS", "3")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env vars override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.MailboxSize, convey.ShouldEqual, 64)
				convey.So(cfg.StorageDriver, convey.ShouldEqual, config.StorageSQLite)
				convey.So(cfg.SQLitePath, convey.ShouldEqual, "/tmp/draft.db")
				convey.So(cfg.CountdownSeconds, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := filepath.Join(t.TempDir(), "draftd.yaml")
			content := "addr: \":7070\"\ndefault_budget: 250\nlog_level: debug\n"
			convey.So(os.WriteFile(path, []byte(content), 0o600), convey.ShouldBeNil)
			t.Setenv(config.EnvConfigFile, path)
			t.Setenv("DRAFTD_DEFAULT_BUDGET", "300")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values apply and env wins over file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.DefaultBudget, convey.ShouldEqual, 300)
			})
		})

		convey.Convey("When the config file is missing", func() {
			t.Setenv(config.EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When env produces an invalid config", func() {
			t.Setenv("DRAFTD_STORAGE_DRIVER", "mongo")
			_, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, config.EnvPrefix) {
			_ = os.Unsetenv(name)
		}
	}
}
