package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/repository"
	"PatternMemory/internal/service/cache"
	"PatternMemory/internal/services/memory"
	"PatternMemory/internal/usecase"
	applogger "PatternMemory/pkg/logger"
)

var (
	runInput    string
	runSnapshot string
	runSave     bool
	runDryRun   bool
	runFormat   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyze every candle batch in a file",
	Long: `Read a stream of candle batches (one JSON object per batch, the same shape the
candles topic carries) and analyze them in order.

Examples:
  patmem-replay run --input batches.jsonl
  patmem-replay run --input batches.jsonl --snapshot data/memory.json --save
  patmem-replay run --input batches.jsonl --format json`,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runInput, "input", "", "candle batch file, - for stdin")
	runCmd.Flags().StringVar(&runSnapshot, "snapshot", "", "memory snapshot to load before the replay")
	runCmd.Flags().BoolVar(&runSave, "save", false, "write memory back to --snapshot afterwards")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "synthesize signals without emitting them")
	runCmd.Flags().StringVar(&runFormat, "format", "table", "output format: table, json")

	_ = runCmd.MarkFlagRequired("input")
}

func runReplay(cmd *cobra.Command, _ []string) error {
	if runSave && runSnapshot == "" {
		return errors.New("--save requires --snapshot")
	}
	if runFormat != "table" && runFormat != "json" {
		return fmt.Errorf("unknown format %q", runFormat)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store := memory.NewStore(cfg.Memory, cfg.Instruments, memory.WithLogger(log))
	var persister *memory.Persister
	if runSnapshot != "" {
		persister = memory.NewPersister(store, repository.NewFileSnapshotStore(runSnapshot), cfg.Memory.PersistTimeout,
			memory.WithPersisterLogger(log))
		if err := persister.Load(ctx); err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
	}

	signals := repository.NewChannelPublisher(cfg.Emitter.QueueSize)
	emitter := usecase.NewEmitter(cache.NewTTLCache(), cfg.Emitter.Window, log, nil, signals)
	analyze := usecase.NewAnalyzeUseCase(cfg, store, emitter, usecase.WithAnalyzeLogger(log))

	var (
		emitted []*models.Signal
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for s := range signals.Signals() {
			emitted = append(emitted, s)
		}
	}()

	reports, err := replayFile(ctx, analyze, log)
	_ = emitter.Close()
	wg.Wait()
	if err != nil {
		return err
	}

	if runSave {
		if err := persister.Save(ctx); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if runFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Reports []*models.AnalysisReport `json:"reports"`
			Signals []*models.Signal         `json:"signals"`
			Memory  models.MemoryStats       `json:"memory"`
		}{reports, emitted, store.Stats()})
	}
	printTable(out, reports)
	st := store.Stats()
	fmt.Fprintf(out, "\n%d batches, %d signals emitted, memory: %d records (%d pending, %d resolved)\n",
		len(reports), len(emitted), st.Records, st.Pending, st.Resolved)
	return nil
}

func replayFile(ctx context.Context, analyze *usecase.AnalyzeUseCase, log *applogger.Logger) ([]*models.AnalysisReport, error) {
	var r io.Reader = os.Stdin
	if runInput != "-" {
		f, err := os.Open(runInput)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var reports []*models.AnalysisReport
	dec := json.NewDecoder(r)
	for n := 1; ; n++ {
		var batch usecase.CandleBatch
		if err := dec.Decode(&batch); err != nil {
			if errors.Is(err, io.EOF) {
				return reports, nil
			}
			return reports, fmt.Errorf("batch %d: %w", n, err)
		}
		p, err := batch.Params()
		if err != nil {
			return reports, fmt.Errorf("batch %d: %w", n, err)
		}
		p.DryRun = p.DryRun || runDryRun
		report, err := analyze.Analyze(ctx, p)
		if err != nil {
			// a malformed batch is reported and skipped, like the candles topic does
			log.Warn("batch rejected", applogger.Int("batch", n), applogger.String("symbol", batch.Symbol), applogger.Error(err))
			continue
		}
		reports = append(reports, report)
	}
}

func printTable(w io.Writer, reports []*models.AnalysisReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tTIMEFRAMES\tEVENTS\tSIGNAL\tCONFIDENCE\tEMITTED\tDEGRADED\tRESOLVED")
	for _, r := range reports {
		tfs := make([]string, 0, len(r.Events))
		events := 0
		for tf, es := range r.Events {
			tfs = append(tfs, string(tf))
			events += len(es)
		}
		sort.Slice(tfs, func(i, j int) bool {
			return models.Timeframe(tfs[i]).Rank() < models.Timeframe(tfs[j]).Rank()
		})
		signal, conf := "-", "-"
		if r.Signal != nil {
			signal = fmt.Sprintf("%s@%s", r.Signal.Direction, r.Signal.Timeframe)
			conf = fmt.Sprintf("%.1f", r.Signal.Confidence)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%t\t%t\t%d\n",
			r.Symbol, strings.Join(tfs, ","), events, signal, conf, r.Emitted, r.Degraded, r.Resolved)
	}
	_ = tw.Flush()
}
