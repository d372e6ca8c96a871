package aim

import "github.com/pkg/errors"

var (
	// ErrNoConfiguration is returned by operations that need a configuration before one is loaded.
	ErrNoConfiguration = errors.New("no configuration loaded")
	// ErrInvalidConfiguration is returned for a configuration missing its instrument, sensors or model.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrSessionNotStarted is returned when ending a measurement session that was never started.
	ErrSessionNotStarted = errors.New("measurement session not started")
	// ErrNoSessionData is returned when predicting without a session.
	ErrNoSessionData = errors.New("no session data available")
	// ErrInvalidSession is returned when predicting on an incomplete session.
	ErrInvalidSession = errors.New("invalid session data")
)
