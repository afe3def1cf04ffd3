package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"microgpt-go/pkg/config"
	"microgpt-go/pkg/dataset"
	"microgpt-go/pkg/model"
	"microgpt-go/pkg/runlog"
	"microgpt-go/pkg/session"
)

const defaultDataset = "input.txt"

// runFlags are shared by train and sample. Defaults come from the
// environment, so flags override env which overrides built-ins.
type runFlags struct {
	opts       model.Options
	run        config.Run
	noDownload bool
	prompt     string
}

func bindRunFlags(cmd *cobra.Command) *runFlags {
	f := &runFlags{opts: config.FromEnv(), run: config.RunFromEnv()}
	if f.run.DatasetPath == "" {
		f.run.DatasetPath = defaultDataset
	}
	fl := cmd.Flags()
	fl.StringVar(&f.run.DatasetPath, "dataset", f.run.DatasetPath, "training data: one document per line, or .jsonl records")
	fl.BoolVar(&f.noDownload, "no-download", false, "fail instead of downloading names.txt when the dataset is missing")
	fl.Int64Var(&f.opts.Seed, "seed", f.opts.Seed, "RNG seed")
	fl.IntVar(&f.opts.NLayer, "n-layer", f.opts.NLayer, "transformer layers")
	fl.IntVar(&f.opts.NEmbd, "n-embd", f.opts.NEmbd, "embedding width")
	fl.IntVar(&f.opts.NHead, "n-head", f.opts.NHead, "attention heads")
	fl.IntVar(&f.opts.BlockSize, "block-size", f.opts.BlockSize, "maximum context length")
	fl.Float64Var(&f.run.Temperature, "temperature", f.run.Temperature, "sampling temperature (> 0)")
	fl.IntVarP(&f.run.SampleCount, "samples", "n", f.run.SampleCount, "samples to print")
	fl.StringVar(&f.run.RunDB, "db", f.run.RunDB, "SQLite run log (empty disables)")
	fl.StringVar(&f.prompt, "prompt", "", "also print a completion of this prompt")
	return f
}

func (f *runFlags) validate() error {
	if !(f.run.Temperature > 0) {
		return fmt.Errorf("invalid temperature %v: must be > 0", f.run.Temperature)
	}
	if f.run.SampleCount < 0 {
		return fmt.Errorf("invalid sample count %d", f.run.SampleCount)
	}
	return f.opts.Validate()
}

// open loads the dataset and returns an initialized session. The returned
// func closes the run log, if any.
func (f *runFlags) open(ctx context.Context) (*session.Session, func(), error) {
	if err := f.validate(); err != nil {
		return nil, nil, err
	}
	path := f.run.DatasetPath
	if !f.noDownload && !dataset.IsJSONL(path) {
		fetched, err := dataset.Ensure(ctx, nil, dataset.NamesURL, path)
		if err != nil {
			return nil, nil, err
		}
		if fetched {
			fmt.Printf("[data] downloaded %s\n", path)
		}
	}
	text, err := dataset.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}

	sess := session.New()
	closeFn := func() {}
	if f.run.RunDB != "" {
		store, err := runlog.Open(f.run.RunDB)
		if err != nil {
			return nil, nil, err
		}
		sess.SetRecorder(store)
		closeFn = func() { store.Close() }
	}
	info, err := sess.Init(text, f.opts)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	o := f.opts
	fmt.Printf("dataset: %s | num docs: %d\n", path, info.NumDocs)
	fmt.Printf("vocab size: %d\n", info.VocabSize)
	fmt.Printf("config: n_layer=%d n_embd=%d n_head=%d block_size=%d\n", o.NLayer, o.NEmbd, o.NHead, o.BlockSize)
	fmt.Printf("num params: %d\n", info.NumParams)
	if id := sess.RunID(); id != 0 {
		fmt.Printf("[runlog] run %d -> %s\n", id, f.run.RunDB)
	}
	return sess, closeFn, nil
}

func (f *runFlags) printSamples(sess *session.Session) error {
	if f.run.SampleCount > 0 {
		samples, err := sess.Generate(f.run.Temperature, f.run.SampleCount)
		if err != nil {
			return err
		}
		fmt.Println("--- inference (generated samples) ---")
		for i, s := range samples {
			fmt.Printf("sample %2d: %s\n", i+1, s.Text)
		}
	}
	if f.prompt != "" {
		out, err := sess.Complete(f.prompt, model.SampleOptions{Temperature: f.run.Temperature}, f.opts.BlockSize)
		if err != nil {
			return err
		}
		fmt.Printf("completion: %s%s\n", f.prompt, out.Text)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "microgpt",
		Short:         "Train and sample a tiny character-level GPT",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTrainCmd(), newSampleCmd(), newValidateCmd(), newRunsCmd())
	return root
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train on a dataset, then print samples",
		Args:  cobra.NoArgs,
	}
	f := bindRunFlags(cmd)
	cmd.Flags().IntVar(&f.opts.NumSteps, "steps", f.opts.NumSteps, "optimizer steps")
	cmd.Flags().Float64Var(&f.opts.LearningRate, "lr", f.opts.LearningRate, "initial learning rate")
	cmd.Flags().BoolVarP(&f.run.Verbose, "verbose", "v", f.run.Verbose, "print a metrics line every METRIC_INTERVAL steps")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		sess, closeFn, err := f.open(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
		o := f.opts
		fmt.Printf("optimizer: lr=%.5f beta1=%.3f beta2=%.3f eps=%.1e steps=%d\n", o.LearningRate, o.Beta1, o.Beta2, o.EpsAdam, o.NumSteps)

		start := time.Now()
		sum, err := sess.Train(ctx, o.NumSteps, 1, func(r session.Report) {
			logStep(f.run, o, r, start)
		})
		if err != nil {
			return err
		}
		if !f.run.Verbose {
			fmt.Println()
		}
		if sum.Stopped {
			fmt.Printf("[train] interrupted after %d steps\n", sum.Steps)
		}
		fmt.Printf("[train] done steps=%d elapsed=%s\n", sum.TotalSteps, time.Since(start).Truncate(time.Millisecond))
		// The run context may be cancelled by now; sampling does not use it.
		return f.printSamples(sess)
	}
	return cmd
}

func logStep(run config.Run, o model.Options, r session.Report, start time.Time) {
	if !run.Verbose {
		fmt.Printf("step %4d / %4d | loss %.4f\r", r.Step, o.NumSteps, r.Loss)
		return
	}
	if r.Step%run.MetricInterval != 0 && r.Step != 1 && r.Step != o.NumSteps {
		return
	}
	elapsed := time.Since(start)
	stepsPerSec := float64(r.Step) / elapsed.Seconds()
	eta := time.Duration(float64(o.NumSteps-r.Step) / stepsPerSec * float64(time.Second))
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)
	docChars := len([]rune(r.Doc))
	fmt.Printf(
		"[step] %d/%d loss=%.4f lr=%.6f seq_len=%d doc_chars=%d steps_per_sec=%.3f elapsed=%s eta=%s heap_alloc_mb=%.2f param_mean=%.5f param_std=%.5f\n",
		r.Step, o.NumSteps, r.Loss, r.LearningRate, min(o.BlockSize, docChars+1), docChars, stepsPerSec,
		elapsed.Truncate(time.Second), eta.Truncate(time.Second), float64(mem.Alloc)/1024.0/1024.0,
		r.ParamStats.Mean, r.ParamStats.Std,
	)
	if run.Debug() {
		fmt.Printf("[debug] step=%d doc_preview=%q\n", r.Step, dataset.Preview(r.Doc, 120))
	}
}

func newSampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample from freshly initialized, untrained parameters",
		Args:  cobra.NoArgs,
	}
	f := bindRunFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		sess, closeFn, err := f.open(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return f.printSamples(sess)
	}
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-dataset [path]",
		Short: "Check a JSONL dataset and count its records by type",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.EnvString("DATASET_PATH", "")
			if len(args) == 1 {
				path = strings.TrimSpace(args[0])
			}
			if path == "" {
				return fmt.Errorf("validate-dataset requires a dataset path")
			}
			rep, err := dataset.ValidateFile(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dataset valid: %s\n", path)
			fmt.Fprintf(out, "records: %d\n", rep.Total)
			for _, k := range rep.Types() {
				fmt.Fprintf(out, "- %s: %d\n", k, rep.Counts[k])
			}
			return nil
		},
	}
}

func newRunsCmd() *cobra.Command {
	dbPath := config.EnvString("RUN_DB", "microgpt.db")
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("run log %s: %w", dbPath, err)
			}
			store, err := runlog.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.Runs()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			for _, r := range runs {
				loss := "-"
				if r.FinalLoss.Valid {
					loss = fmt.Sprintf("%.4f", r.FinalLoss.Float64)
				}
				fmt.Fprintf(out, "run %d | %s | steps %d | params %d | vocab %d | docs %d | seed %d | final loss %s\n",
					r.ID, r.StartedAt.Format(time.DateTime), r.Steps, r.NumParams, r.VocabSize, r.NumDocs, r.Options.Seed, loss)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", dbPath, "SQLite run log")
	return cmd
}
