package runlog

import (
	"math"
	"path/filepath"
	"testing"

	"microgpt-go/pkg/model"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTemp(t)
	opts := model.DefaultOptions()
	opts.Seed = 9
	id, err := s.StartRun(opts, model.InitInfo{NumParams: 3424, VocabSize: 3, NumDocs: 2})
	if err != nil {
		t.Fatal(err)
	}
	for i, loss := range []float64{1.5, math.NaN(), 0.75} {
		if err := s.RecordStep(id, model.StepResult{Step: i + 1, Loss: loss, LearningRate: 0.01, Doc: "ab"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RecordSample(id, 3, 0.5, "ba"); err != nil {
		t.Fatal(err)
	}

	runs, err := s.Runs()
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v err = %v", runs, err)
	}
	if !runs[0].FinishedAt.IsZero() || runs[0].FinalLoss.Valid {
		t.Fatalf("open run reported finished: %+v", runs[0])
	}
	if err := s.FinishRun(id, 0.75); err != nil {
		t.Fatal(err)
	}

	runs, _ = s.Runs()
	r := runs[0]
	if r.Options.Seed != 9 || r.NumParams != 3424 || r.Steps != 3 {
		t.Fatalf("run = %+v", r)
	}
	if !r.FinalLoss.Valid || r.FinalLoss.Float64 != 0.75 || r.FinishedAt.Before(r.StartedAt) {
		t.Fatalf("finished run = %+v", r)
	}

	hist, err := s.LossHistory(id)
	if err != nil || len(hist) != 3 {
		t.Fatalf("history = %v err = %v", hist, err)
	}
	if hist[0] != 1.5 || !math.IsNaN(hist[1]) || hist[2] != 0.75 {
		t.Fatalf("history = %v", hist)
	}
	samples, err := s.Samples(id)
	if err != nil || len(samples) != 1 || samples[0] != "ba" {
		t.Fatalf("samples = %v err = %v", samples, err)
	}
}

func TestRunsNewestFirstAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	first, _ := s.StartRun(model.DefaultOptions(), model.InitInfo{})
	second, _ := s.StartRun(model.DefaultOptions(), model.InitInfo{})
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runs, err := s.Runs()
	if err != nil || len(runs) != 2 {
		t.Fatalf("runs = %v err = %v", runs, err)
	}
	if runs[0].ID != second || runs[1].ID != first {
		t.Fatalf("order = %d,%d", runs[0].ID, runs[1].ID)
	}
}
