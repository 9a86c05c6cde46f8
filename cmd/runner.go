package cmd

import (
	"context"

	"firestige.xyz/tapcheck/internal/config"
	"firestige.xyz/tapcheck/internal/scenario"
	"firestige.xyz/tapcheck/internal/session"
)

// Runner is the part of a session the commands drive.
type Runner interface {
	Run(ctx context.Context) (*session.Result, error)
	Close() error
}

// openSession is replaced in tests.
var openSession = func(c *config.Config, sc *scenario.Scenario) (Runner, error) {
	return session.Open(c, sc)
}
