package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmylchreest/transmux/internal/adapters"
	"github.com/jmylchreest/transmux/internal/config"
	"github.com/jmylchreest/transmux/internal/engine"
	"github.com/spf13/cobra"
)

var (
	runInputs       []string
	runProgressFile string
	runVStatsFile   string
	runCopyTS       bool
	runExitOnError  bool
	runNoStdin      bool
	runBenchmark    bool
	runMaxErrorRate float64
	runStatsPeriod  string
	runRecordingT   string
)

// runCmd drives one transcode job.
var runCmd = &cobra.Command{
	Use:   "run [flags] output...",
	Short: "Run a transcode job",
	Long: `Run a transcode job from the given inputs to the given outputs.

Input and output URLs select an adapter by scheme. The bundled adapters:

  null:[rate=N,duration=D,size=B,realtime=BOOL]   synthetic packet source
  null:                                           discarding sink

Example:
  transmux run -i null:rate=25,duration=3s null:`,
	RunE: runTranscode,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "input URL (repeatable)")
	runCmd.Flags().StringVar(&runProgressFile, "progress", "", "write machine-readable progress to file ('-' for stdout)")
	runCmd.Flags().StringVar(&runVStatsFile, "vstats", "", "write per-frame video statistics to file")
	runCmd.Flags().BoolVar(&runCopyTS, "copyts", false, "preserve input timestamps")
	runCmd.Flags().BoolVar(&runExitOnError, "xerror", false, "abort on demuxer read errors")
	runCmd.Flags().BoolVar(&runNoStdin, "nostdin", false, "disable interactive keyboard console")
	runCmd.Flags().BoolVar(&runBenchmark, "benchmark", false, "log resource usage at end of run")
	runCmd.Flags().Float64Var(&runMaxErrorRate, "max-error-rate", -1, "maximum tolerated decode error rate [0,1]")
	runCmd.Flags().StringVar(&runStatsPeriod, "stats-period", "", "minimum interval between progress reports")
	runCmd.Flags().StringVarP(&runRecordingT, "recording-time", "t", "", "cap the recording time read from each input")
	rootCmd.AddCommand(runCmd)
}

func runTranscode(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if len(runInputs) == 0 && len(args) == 0 {
		cmd.Usage()
		fmt.Fprintln(os.Stderr, "Use -h to get full help")
		exitCode = engine.ExitSetupError
		return nil
	}
	if len(args) == 0 {
		log.Error("At least one output file must be specified")
		exitCode = engine.ExitSetupError
		return nil
	}

	opts, err := engineOptions(cfg)
	if err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		exitCode = engine.ExitSetupError
		return nil
	}

	e := engine.New(opts, log)
	e.SetLevelVar(logLevel)

	var recordingTime time.Duration
	if runRecordingT != "" {
		d, err := config.ParseDuration(runRecordingT)
		if err != nil {
			log.Error("invalid recording time", slog.String("error", err.Error()))
			exitCode = engine.ExitSetupError
			return nil
		}
		recordingTime = d.Std()
	}

	for idx, url := range runInputs {
		f, err := buildInput(idx, url, recordingTime)
		if err != nil {
			log.Error("cannot open input", slog.String("url", url), slog.String("error", err.Error()))
			exitCode = engine.ExitSetupError
			return nil
		}
		e.AddInput(f)
	}

	for idx, url := range args {
		of, err := buildOutput(idx, url, e.InputFiles())
		if err != nil {
			log.Error("cannot open output", slog.String("url", url), slog.String("error", err.Error()))
			exitCode = engine.ExitSetupError
			return nil
		}
		e.AddOutput(of)
	}

	exitCode = e.Run()
	return nil
}

// engineOptions maps file/env/flag configuration onto engine options.
func engineOptions(c *config.Config) (engine.Options, error) {
	opts := engine.Options{
		StdinInteraction: c.Transcode.StdinInteraction && !runNoStdin,
		DoBenchmark:      c.Transcode.Benchmark || runBenchmark,
		DoBenchmarkAll:   c.Transcode.BenchmarkAll,
		PrintStats:       c.Stats.Print,
		StatsPeriod:      c.Stats.Period.Std(),
		CopyTS:           c.Transcode.CopyTS || runCopyTS,
		StartAtZero:      c.Transcode.StartAtZero,
		ExitOnError:      c.Transcode.ExitOnError || runExitOnError,
		MaxErrorRate:     c.Transcode.MaxErrorRate,
		VStatsPath:       c.Stats.VStatsFile,
	}

	if runMaxErrorRate >= 0 {
		if runMaxErrorRate > 1 {
			return opts, fmt.Errorf("max-error-rate must be in [0,1]")
		}
		opts.MaxErrorRate = runMaxErrorRate
	}
	if runStatsPeriod != "" {
		d, err := config.ParseDuration(runStatsPeriod)
		if err != nil {
			return opts, fmt.Errorf("stats-period: %w", err)
		}
		opts.StatsPeriod = d.Std()
	}
	if runVStatsFile != "" {
		opts.VStatsPath = runVStatsFile
	}

	progressPath := runProgressFile
	if progressPath == "" {
		progressPath = c.Stats.ProgressFile
	}
	switch progressPath {
	case "":
	case "-":
		opts.Progress = os.Stdout
	default:
		f, err := os.Create(progressPath)
		if err != nil {
			return opts, fmt.Errorf("progress file: %w", err)
		}
		opts.Progress = f
	}

	return opts, nil
}

// buildInput constructs an input file for a URL.
func buildInput(index int, url string, recordingTime time.Duration) (*engine.InputFile, error) {
	spec, ok := strings.CutPrefix(url, "null:")
	if !ok {
		return nil, fmt.Errorf("no demuxer adapter for %q", url)
	}

	srcCfg, err := adapters.ParseNullSourceSpec(spec)
	if err != nil {
		return nil, err
	}
	dmx := adapters.NewNullDemuxer(srcCfg)

	f := engine.NewInputFile(index, url, dmx)
	if recordingTime > 0 {
		f.RecordingTime = recordingTime.Microseconds()
	}
	f.Streams = []*engine.InputStream{{
		FileIndex: index,
		Index:     0,
		Type:      engine.MediaTypeVideo,
		CodecName: "rawvideo",
		TimeBase:  dmx.TimeBase(),
	}}
	return f, nil
}

// buildOutput constructs an output file whose streams copy from the
// matching input streams.
func buildOutput(index int, url string, inputs []*engine.InputFile) (*engine.OutputFile, error) {
	if url != "null:" && url != "-" {
		return nil, fmt.Errorf("no muxer adapter for %q", url)
	}

	of := &engine.OutputFile{
		Index: index,
		Name:  url,
		Mux:   adapters.NewNullMuxer(),
	}

	// Map every input stream straight through, stream-copy.
	for _, f := range inputs {
		for _, ist := range f.Streams {
			ost := engine.NewOutputStream(index, len(of.Streams), ist.Type)
			ost.Name = fmt.Sprintf("%s#%d", url, len(of.Streams))
			ost.Source = ist
			ist.Outputs = append(ist.Outputs, ost)
			of.Streams = append(of.Streams, ost)
		}
	}

	if len(of.Streams) == 0 {
		return nil, fmt.Errorf("output %q has no streams to map", url)
	}
	return of, nil
}
