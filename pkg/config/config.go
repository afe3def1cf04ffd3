// Package config reads model options and run settings from the
// environment. Malformed values fall back to the default.
package config

import (
	"os"
	"strconv"
	"strings"

	"microgpt-go/pkg/model"
)

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func EnvString(name, def string) string {
	if v := normalize(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func EnvInt(name string, def int) int {
	v := normalize(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func EnvInt64(name string, def int64) int64 {
	v := normalize(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func EnvFloat(name string, def float64) float64 {
	v := normalize(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return n
}

func EnvBool(name string, def bool) bool {
	v := strings.ToLower(normalize(os.Getenv(name)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// FromEnv overlays the hyperparameter variables on model.DefaultOptions.
func FromEnv() model.Options {
	o := model.DefaultOptions()
	o.Seed = EnvInt64("SEED", o.Seed)
	o.NLayer = EnvInt("N_LAYER", o.NLayer)
	o.NEmbd = EnvInt("N_EMBD", o.NEmbd)
	o.NHead = EnvInt("N_HEAD", o.NHead)
	o.BlockSize = EnvInt("BLOCK_SIZE", o.BlockSize)
	o.LearningRate = EnvFloat("LEARNING_RATE", o.LearningRate)
	o.NumSteps = EnvInt("NUM_STEPS", o.NumSteps)
	o.Beta1 = EnvFloat("BETA1", o.Beta1)
	o.Beta2 = EnvFloat("BETA2", o.Beta2)
	o.EpsAdam = EnvFloat("EPS_ADAM", o.EpsAdam)
	return o
}

// Run holds the settings that are not part of the model itself.
type Run struct {
	DatasetPath    string
	Temperature    float64
	SampleCount    int
	Verbose        bool
	LogLevel       string
	MetricInterval int
	RunDB          string
	Port           string
}

func RunFromEnv() Run {
	r := Run{
		DatasetPath:    EnvString("DATASET_PATH", ""),
		Temperature:    EnvFloat("TEMPERATURE", model.DefaultTemperature),
		SampleCount:    EnvInt("SAMPLE_COUNT", 20),
		Verbose:        EnvBool("VERBOSE", false),
		LogLevel:       strings.ToLower(EnvString("LOG_LEVEL", "info")),
		MetricInterval: EnvInt("METRIC_INTERVAL", 25),
		RunDB:          EnvString("RUN_DB", ""),
		Port:           EnvString("PORT", "7860"),
	}
	if r.MetricInterval < 1 {
		r.MetricInterval = 1
	}
	return r
}

func (r Run) Debug() bool { return r.LogLevel == "debug" }
