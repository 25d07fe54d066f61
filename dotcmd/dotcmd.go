// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dotcmd provides utilities for implementing bigdot command
// line tools. The main entry point, dotcmd.Main, configures a session
// according to a common set of flags, and then invokes the user's
// driver code.
//
// A dotcmd tool follows this form:
//
//	func main() {
//		dotcmd.Main(func(sess *exec.Session, fl dotflags.Flags, args []string) error {
//			report, err := sess.Run(context.Background(), fl.Config())
//			if err != nil {
//				return err
//			}
//			// Do something with the report...
//			return nil
//		})
//	}
package dotcmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof" // Pprof is exposed on the diagnostic web server.
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigdot"
	"github.com/grailbio/bigdot/dotflags"
	"github.com/grailbio/bigdot/exec"
)

// Main is the entry point for a dotcmd. Main parses (global) flags,
// starts a session accordingly, and invokes the provided func with the
// session, the parsed flags, and the remaining arguments. Main does
// not return: if the func returns an error, it is reported and the
// process exits with code 1; otherwise it exits successfully.
//
// Main starts a diagnostic web server (default address :3333) on
// http.DefaultServeMux, including pprof handlers, bigmachine's debug
// handlers, and the session's status at /debug/status.
func Main(main func(sess *exec.Session, fl dotflags.Flags, args []string) error) {
	var fl dotflags.Flags
	dotflags.RegisterFlags(flag.CommandLine, &fl, "")
	log.AddFlags()
	flag.Parse()
	sess, err := Init(fl)
	if err != nil {
		log.Fatal(err)
	}
	err = main(sess, fl, flag.Args())
	sess.Shutdown()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}

// Init starts a session according to the supplied flags.
func Init(fl dotflags.Flags) (*exec.Session, error) {
	if fl.SystemHelp {
		providers, profiles := dotflags.ProvidersAndProfiles()
		sort.Strings(providers)
		wr := fl.Output()
		fmt.Fprintf(wr, "%s\n\n", dotflags.SystemHelpLong)
		fmt.Fprintf(wr, "The available providers are: %v\n", strings.Join(providers, ", "))
		var str []string
		for k, v := range profiles {
			str = append(str, fmt.Sprintf("%v is shorthand for: %v\n", k, v))
		}
		sort.Strings(str)
		for _, s := range str {
			io.WriteString(wr, s)
		}
		os.Exit(0)
	}
	options, sessStatus, err := fl.ExecOptions()
	if err != nil {
		return nil, err
	}
	sess := exec.Start(options...)
	DisplayStatus(fl, sess, sessStatus)
	return sess, nil
}

// DisplayStatus arranges for the session's status to be displayed on
// the console and/or a web page, depending on the flags.
func DisplayStatus(fl dotflags.Flags, sess *exec.Session, sessStatus *status.Status) {
	if fl.ConsoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, sessStatus)
	}
	if len(fl.HTTPAddress.Address) > 0 {
		sess.HandleDebug(http.DefaultServeMux)
		http.Handle("/debug/status", status.Handler(sessStatus))
		go func() {
			log.Printf("HTTP status at: %v", fl.HTTPAddress)
			if err := http.ListenAndServe(fl.HTTPAddress.Address, nil); err != nil {
				log.Error.Printf("failed to start HTTP at %v: %v", fl.HTTPAddress, err)
			}
		}()
	}
}

// Bench runs the computation configured by the flags fl.Repeat times
// (at least once), writing each report to w. When there is more than
// one run, a summary follows the reports.
func Bench(ctx context.Context, sess *exec.Session, fl dotflags.Flags, w io.Writer) ([]*bigdot.Report, error) {
	repeat := fl.Repeat
	if repeat < 1 {
		repeat = 1
	}
	config := fl.Config()
	reports := make([]*bigdot.Report, 0, repeat)
	for i := 0; i < repeat; i++ {
		report, err := sess.Run(ctx, config)
		if err != nil {
			return reports, err
		}
		if _, err := report.WriteTo(w); err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	if repeat > 1 {
		summary := bigdot.Summarize(reports)
		if _, err := summary.WriteTo(w); err != nil {
			return reports, err
		}
		log.Printf("%d runs: speedup %s; counters %s", summary.Runs, summary.Speedup, sess.Stats())
	}
	return reports, nil
}
