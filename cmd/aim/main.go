// Package main runs measurement sessions from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.aim.dev/aim/aim"
	"go.aim.dev/aim/board/periph"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/reading"
	"go.aim.dev/aim/smartscale"
)

const (
	// Flags.
	flagConfig   = "config"
	flagDebug    = "debug"
	flagLogLevel = "log-level"
	flagModel    = "model"
	flagFake     = "fake"
	flagSeed     = "seed"
	flagAsync    = "async"
	flagCount    = "count"
	flagDuration = "duration"
	flagTable    = "table"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	var logger logging.Logger

	return &cli.App{
		Name:      "aim",
		Usage:     "acquire measurements and correct them with a model",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load smart scale settings from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagModel,
				Usage: "load the linear model from `FILE` instead of the configured one",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Value: "info",
				Usage: "log at `LEVEL` (debug, info, warn or error); --debug wins",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("aim")
				return nil
			}
			level, err := logging.LevelFromString(c.String(flagLogLevel))
			if err != nil {
				return err
			}
			logger = logging.NewLogger("aim")
			logger.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "measure",
				Usage: "run measurement sessions and print the corrected values",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagFake,
						Usage: "use simulated sensors instead of the board",
					},
					&cli.Int64Flag{
						Name:  flagSeed,
						Usage: "seed for the simulated sensors",
						Value: 1,
					},
					&cli.BoolFlag{
						Name:  flagAsync,
						Usage: "talk to all sensors concurrently",
					},
					&cli.IntFlag{
						Name:  flagCount,
						Usage: "number of sessions to run",
						Value: 1,
					},
					&cli.DurationFlag{
						Name:  flagDuration,
						Usage: "how long each session measures",
						Value: time.Second,
					},
					&cli.BoolFlag{
						Name:  flagTable,
						Usage: "print every measurement of each session as a table",
					},
				},
				Action: func(c *cli.Context) error {
					return measureAction(c, logger)
				},
			},
			{
				Name:  "config",
				Usage: "print the effective smart scale settings",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, cfg)
				},
			},
			{
				Name:  "schema",
				Usage: "print the JSON schema of the smart scale settings",
				Action: func(c *cli.Context) error {
					r := &jsonschema.Reflector{DoNotReference: true}
					return printJSON(c.App.Writer, r.Reflect(&smartscale.Config{}))
				},
			},
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig(c *cli.Context) (*smartscale.Config, error) {
	cfg := smartscale.DefaultConfig()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = smartscale.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if path := c.String(flagModel); path != "" {
		cfg.ModelPath = path
	}
	return cfg, cfg.Validate("config")
}

func measureAction(c *cli.Context, logger logging.Logger) error {
	if c.Int(flagCount) < 1 {
		return errors.Errorf("--%s must be at least 1", flagCount)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	var conf *aim.Configuration
	if c.Bool(flagFake) {
		//nolint:gosec
		conf, err = smartscale.BuildFake(cfg, rand.New(rand.NewSource(c.Int64(flagSeed))), nil, logger)
	} else {
		conf, err = buildOnBoard(cfg, logger)
	}
	if err != nil {
		return err
	}

	a := aim.New(logger, nil)
	if err := a.LoadConfiguration(conf); err != nil {
		return err
	}
	start, end, predict := a.StartMeasurementSession, a.EndMeasurementSession, a.Predict
	if c.Bool(flagAsync) {
		start, end, predict = a.StartMeasurementSessionAsync, a.EndMeasurementSessionAsync, a.PredictAsync
	}

	ctx := c.Context
	for i := 0; i < c.Int(flagCount); i++ {
		if err := start(ctx); err != nil {
			return errors.Wrap(err, "failed to start measurement session")
		}
		goutils.SelectContextOrWait(ctx, c.Duration(flagDuration))
		s, err := end(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to end measurement session")
		}
		p, err := predict(ctx, s)
		if err != nil {
			return errors.Wrap(err, "failed to predict")
		}
		var readings []string
		for _, r := range append([]*reading.Reading{s.Primary()}, s.Auxiliary()...) {
			for _, m := range r.Measurements() {
				readings = append(readings, fmt.Sprintf("%s=%.3f", m.Name, m.Value))
			}
		}
		fmt.Fprintf(c.App.Writer, "session %s: %s -> %.3f (confidence %.2f, ±%.3f)\n",
			s.ID(), strings.Join(readings, " "), p.CorrectedValue, p.Confidence, p.ErrorMargin)
		if c.Bool(flagTable) {
			fmt.Fprintln(c.App.Writer, s.String())
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func buildOnBoard(cfg *smartscale.Config, logger logging.Logger) (*aim.Configuration, error) {
	gpio, err := periph.NewGPIO(logger.Sublogger("gpio"))
	if err != nil {
		return nil, err
	}
	bus, err := periph.NewI2CBus(cfg.I2CBus, logger.Sublogger("i2c"))
	if err != nil {
		return nil, err
	}
	return smartscale.Build(cfg, smartscale.Hardware{GPIO: gpio, I2C: bus}, nil, logger)
}
