package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/mycophonic/hypha"
	"github.com/mycophonic/hypha/pipeline"
	"github.com/mycophonic/hypha/sink"
	"github.com/mycophonic/hypha/srzip"
)

var errAorBNotBoth = errors.New("-A and -B are mutually exclusive")

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a decoder pipeline against an srzip capture",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Required: true,
				Usage:    "srzip capture file",
			},
			&cli.StringSliceFlag{
				Name:  "P",
				Usage: "decoder stage: id[:opt=val][:channel=rawindex][,...]",
			},
			&cli.StringFlag{
				Name:  "A",
				Usage: "select annotation output: decoder[=class]",
			},
			&cli.StringFlag{
				Name:  "B",
				Usage: "select binary output: decoder[=class]",
			},
			&cli.BoolFlag{
				Name:  "bits",
				Usage: "render logic samples as text (default sink when no srzip-out is given)",
			},
			&cli.StringFlag{
				Name:  "srzip-out",
				Usage: "re-encode the pipeline's logic/analog output to a new srzip archive",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Action: runRun,
	}
}

func runRun(_ context.Context, cmd *cli.Command) error {
	if cmd.String("A") != "" && cmd.String("B") != "" {
		return errAorBNotBoth
	}

	log := newConsoleLogger(cmd.Bool("verbose"))

	reader, err := srzip.Open(cmd.String("input"), nil)
	if err != nil {
		return fmt.Errorf("opening %s: %w", cmd.String("input"), err)
	}
	defer reader.Close()

	reader.SetLogger(log)

	var stages []pipeline.Stage

	for _, raw := range cmd.StringSlice("P") {
		st, perr := parseStageSpecs(raw, reader.LogicNames())
		if perr != nil {
			return perr
		}

		stages = append(stages, st...)
	}

	outputType := hypha.OutputPython
	outputFilter := ""

	if a := cmd.String("A"); a != "" {
		sel := parseOutputSelection(a)
		outputType, outputFilter = hypha.OutputAnn, sel.filter
	} else if b := cmd.String("B"); b != "" {
		sel := parseOutputSelection(b)
		outputType, outputFilter = hypha.OutputBinary, sel.filter
	}

	driver := reader.Driver()
	if driver == "" {
		driver = "srzip"
	}

	outSink, err := buildSink(cmd, reader, driver, len(stages), log)
	if err != nil {
		return err
	}

	runner := pipeline.New(pipeline.Config{
		Input:        reader,
		Stages:       stages,
		Sink:         outSink,
		OutputType:   outputType,
		OutputFilter: outputFilter,
		Driver:       driver,
		Logger:       log,
	})

	log.Info().Str("run", runner.RunID().String()).Int("stages", len(stages)).Msg("starting pipeline")

	if err := runner.Run(); err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}

	return nil
}

// buildSink assembles the terminal sink(s) this invocation writes to.
// --bits and --srzip-out may both be given (fanned out via sink.Multi);
// a srzip.Writer-backed sink closes its own archive from the pipeline's
// Stop() lifecycle, so callers need no extra cleanup. With neither flag,
// --bits is the default so the CLI always has a visible effect.
func buildSink(cmd *cli.Command, reader *srzip.Reader, driver string, numStages int, log zerolog.Logger) (sink.Sink, error) {
	var sinks []sink.Sink

	if path := cmd.String("srzip-out"); path != "" {
		// Decoder annotations have no round-trip representation in the
		// archive format, so re-encoding is only valid on the raw stream.
		if numStages > 0 {
			return nil, hypha.NewConfigError("srzip-out", errors.New("cannot persist decoder output to an srzip archive"))
		}

		writer, err := srzip.Create(path, driver, reader.SampleRate(), reader.LogicNames(), reader.AnalogNames())
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", path, err)
		}

		writer.SetLogger(log)

		sinks = append(sinks, sink.NewSrzip(writer))
	}

	if cmd.Bool("bits") || len(sinks) == 0 {
		sinks = append(sinks, sink.NewBits(os.Stdout, reader.NumLogicChannels()))
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}

	return sink.NewMulti(sinks...), nil
}
