package main

import (
	"fmt"
	"strconv"
	"strings"

	"microgpt-go/pkg/config"
	"microgpt-go/pkg/model"
)

type fieldType int

const (
	fieldString fieldType = iota
	fieldInt
	fieldFloat
)

type cfgField struct {
	Key   string
	Label string
	Type  fieldType
	Value string
	Desc  string
}

type preset struct {
	name        string
	description string
	values      map[string]string
}

// Fields fixed at model init; changing one forces a fresh model.
var modelKeys = map[string]bool{
	"DATASET_PATH": true, "SEED": true, "N_LAYER": true, "N_EMBD": true, "N_HEAD": true, "BLOCK_SIZE": true,
	"LEARNING_RATE": true, "BETA1": true, "BETA2": true, "EPS_ADAM": true,
}

func defaultFields(opts model.Options, run config.Run) []cfgField {
	ds := run.DatasetPath
	if ds == "" {
		ds = "input.txt"
	}
	itoa := strconv.Itoa
	ftoa := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
	return []cfgField{
		{Key: "DATASET_PATH", Label: "Dataset Path", Type: fieldString, Value: ds, Desc: "One document per line, or .jsonl records. names.txt is downloaded when missing"},
		{Key: "SEED", Label: "Seed", Type: fieldInt, Value: strconv.FormatInt(opts.Seed, 10), Desc: "Seeds shuffling, init and sampling"},
		{Key: "N_LAYER", Label: "Layers", Type: fieldInt, Value: itoa(opts.NLayer), Desc: "Transformer layer count"},
		{Key: "N_EMBD", Label: "Embedding Size", Type: fieldInt, Value: itoa(opts.NEmbd), Desc: "Embedding width"},
		{Key: "N_HEAD", Label: "Attention Heads", Type: fieldInt, Value: itoa(opts.NHead), Desc: "Head count, must divide N_EMBD"},
		{Key: "BLOCK_SIZE", Label: "Block Size", Type: fieldInt, Value: itoa(opts.BlockSize), Desc: "Max sequence length"},
		{Key: "NUM_STEPS", Label: "Batch Steps", Type: fieldInt, Value: itoa(opts.NumSteps), Desc: "Optimizer steps per batch; the learning rate decays to zero at its end"},
		{Key: "LEARNING_RATE", Label: "Learning Rate", Type: fieldFloat, Value: ftoa(opts.LearningRate), Desc: "Initial learning rate"},
		{Key: "BETA1", Label: "Adam Beta1", Type: fieldFloat, Value: ftoa(opts.Beta1), Desc: "Adam momentum term"},
		{Key: "BETA2", Label: "Adam Beta2", Type: fieldFloat, Value: ftoa(opts.Beta2), Desc: "Adam variance term"},
		{Key: "EPS_ADAM", Label: "Adam Epsilon", Type: fieldFloat, Value: ftoa(opts.EpsAdam), Desc: "Adam stability epsilon"},
		{Key: "REPORT_EVERY", Label: "Report Every", Type: fieldInt, Value: "1", Desc: "Dashboard update cadence in steps"},
		{Key: "TEMPERATURE", Label: "Sample Temperature", Type: fieldFloat, Value: ftoa(run.Temperature), Desc: "Generation randomness"},
		{Key: "SAMPLE_COUNT", Label: "Sample Count", Type: fieldInt, Value: itoa(run.SampleCount), Desc: "Samples per generate"},
	}
}

func defaultPresets() []preset {
	return []preset{
		{name: "tiny", description: "quick smoke run", values: map[string]string{"N_LAYER": "1", "N_EMBD": "16", "N_HEAD": "4", "BLOCK_SIZE": "16", "NUM_STEPS": "100", "LEARNING_RATE": "0.01"}},
		{name: "names", description: "the classic names run", values: map[string]string{"N_LAYER": "1", "N_EMBD": "16", "N_HEAD": "4", "BLOCK_SIZE": "16", "NUM_STEPS": "1000", "LEARNING_RATE": "0.01"}},
		{name: "wide", description: "two layers, wider", values: map[string]string{"N_LAYER": "2", "N_EMBD": "32", "N_HEAD": "4", "BLOCK_SIZE": "24", "NUM_STEPS": "1500", "LEARNING_RATE": "0.006"}},
	}
}

// runConfig is the parsed form of the config fields.
type runConfig struct {
	opts        model.Options
	dataset     string
	reportEvery int
	temperature float64
	samples     int
}

func parseFields(fields []cfgField) (runConfig, error) {
	vals := map[string]string{}
	for _, f := range fields {
		vals[f.Key] = strings.TrimSpace(f.Value)
	}
	var firstErr error
	atoi := func(k string) int {
		n, err := strconv.Atoi(vals[k])
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s must be an integer", k)
		}
		return n
	}
	atof := func(k string) float64 {
		n, err := strconv.ParseFloat(vals[k], 64)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s must be a number", k)
		}
		return n
	}

	rc := runConfig{
		dataset:     vals["DATASET_PATH"],
		reportEvery: atoi("REPORT_EVERY"),
		temperature: atof("TEMPERATURE"),
		samples:     atoi("SAMPLE_COUNT"),
	}
	seed, err := strconv.ParseInt(vals["SEED"], 10, 64)
	if err != nil {
		return rc, fmt.Errorf("SEED must be an integer")
	}
	rc.opts = model.Options{
		Seed:         seed,
		NLayer:       atoi("N_LAYER"),
		NEmbd:        atoi("N_EMBD"),
		NHead:        atoi("N_HEAD"),
		BlockSize:    atoi("BLOCK_SIZE"),
		NumSteps:     atoi("NUM_STEPS"),
		LearningRate: atof("LEARNING_RATE"),
		Beta1:        atof("BETA1"),
		Beta2:        atof("BETA2"),
		EpsAdam:      atof("EPS_ADAM"),
	}
	if firstErr != nil {
		return rc, firstErr
	}
	if rc.dataset == "" {
		return rc, fmt.Errorf("DATASET_PATH cannot be empty")
	}
	if rc.reportEvery < 1 || rc.samples < 1 {
		return rc, fmt.Errorf("REPORT_EVERY and SAMPLE_COUNT must be >= 1")
	}
	if !(rc.temperature > 0) {
		return rc, fmt.Errorf("TEMPERATURE must be > 0")
	}
	return rc, rc.opts.Validate()
}

func fieldGuidance(f cfgField) []string {
	switch f.Key {
	case "DATASET_PATH":
		return []string{"Each non-empty line is one document.", "Records in .jsonl files are flattened to one line each.", "The vocabulary is every character that appears."}
	case "N_EMBD", "N_HEAD":
		return []string{"Head size is N_EMBD / N_HEAD.", "Wider models learn faster per step but each step is slower."}
	case "BLOCK_SIZE":
		return []string{"Longer documents are cut to this many positions.", "It also bounds the length of generated samples."}
	case "NUM_STEPS":
		return []string{"Press n to train another batch on the same model.", "Each batch restarts the linear decay from the current step."}
	case "LEARNING_RATE", "BETA1", "BETA2", "EPS_ADAM":
		return []string{"Adam with bias correction.", "Too high a rate makes the loss jump around."}
	case "TEMPERATURE":
		return []string{"Below 1 sharpens the distribution, above 1 flattens it.", "Adjust live with [ and ] on the Samples tab."}
	default:
		return nil
	}
}
