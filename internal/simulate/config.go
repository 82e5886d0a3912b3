// Package simulate drives concurrent draft sessions through the HTTP API and
// checks the final rosters for consistency.
package simulate

import (
	"errors"
	"time"
)

// Defaults used by the draft-sim command.
const (
	DefaultBaseURL    = "http://localhost:9080"
	DefaultSessions   = 4
	DefaultCaptains   = 2
	DefaultRosterSize = 3
	DefaultBudget     = 100
	DefaultTimeout    = 10 * time.Second
	DefaultDeadline   = 10 * time.Minute
	DefaultSkipRate   = 0.1

	pollInterval = 100 * time.Millisecond
	turnTimeout  = 30
	bidReset     = 5
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Sessions   int           // Concurrent sessions to run
	Captains   int           // Captains per session
	RosterSize int           // Players per roster
	Budget     int           // Starting budget per captain
	SkipRate   float64       // Chance a captain skips instead of bidding
	Timeout    time.Duration // HTTP request timeout
	Seed       int64         // Random seed; 0 picks one from the clock
	Verbose    bool          // Log every command
}

// Validate checks that the run can be executed.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("base url is required")
	case c.Sessions <= 0:
		return errors.New("sessions must be positive")
	case c.Captains < 2:
		return errors.New("at least two captains are required")
	case c.RosterSize <= 0:
		return errors.New("roster size must be positive")
	case c.Budget < c.RosterSize:
		return errors.New("budget must cover one unit per roster slot")
	case c.SkipRate < 0 || c.SkipRate >= 1:
		return errors.New("skip rate must be in [0,1)")
	}
	return nil
}

// Stats summarizes a run.
type Stats struct {
	SessionsStarted   int
	SessionsCompleted int
	SessionsFailed    int
	Bids              int
	Skips             int
	Rejections        int
	Duration          time.Duration
}
