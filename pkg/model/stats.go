package model

import "gonum.org/v1/gonum/stat"

// ParamStats summarizes the current parameter values.
type ParamStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

func paramStats(t *Tape, params []Value) ParamStats {
	if len(params) == 0 {
		return ParamStats{}
	}
	mean, std := stat.PopMeanStdDev(t.Datas(params), nil)
	return ParamStats{Mean: mean, Std: std}
}
