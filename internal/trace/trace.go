// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package trace defines the trace file format written by bigdot
// sessions and read by the dottrace command.
package trace

import (
	"encoding/json"
	"io"
)

// Categories of trace events.
const (
	// CatRun is the category of events spanning a participant's run.
	CatRun = "run"
	// CatCollective is the category of events spanning a single
	// collective call.
	CatCollective = "collective"
)

// T is a trace: a list of events.
type T struct {
	Events []Event `json:"traceEvents"`
}

// Event is an event in the Chrome tracing format. The fields are
// mirrored exactly. For more details, see:
//	https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/preview
//
// Bigdot traces use one "process" (Pid) per run, and one "thread"
// (Tid) per participant, with Tid = rank+1.
type Event struct {
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	Ts   int64                  `json:"ts"`
	Ph   string                 `json:"ph"`
	Dur  int64                  `json:"dur,omitempty"`
	Name string                 `json:"name"`
	Cat  string                 `json:"cat,omitempty"`
	Args map[string]interface{} `json:"args"`
}

// Encode writes t to w as JSON.
func (t *T) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(t)
}

// Decode reads t from r.
func (t *T) Decode(r io.Reader) error {
	return json.NewDecoder(r).Decode(t)
}
