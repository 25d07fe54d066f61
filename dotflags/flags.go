// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dotflags provides flag support for bigdot command line
// applications: which system provides the participants, how many
// there are, and the shape of the computation.
package dotflags

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigdot"
	"github.com/grailbio/bigdot/exec"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/ec2system"
)

var (
	mu        sync.Mutex
	providers = map[string]Provider{} // protected by mu
	profiles  = map[string]string{}   // protected by mu
)

// Provider provides participants to a bigdot session. Providers are
// configured by setting options via Set.
type Provider interface {
	// Name returns the name of a provider instance.
	Name() string
	// Set sets an option, given as key=val.
	Set(string) error
	// ExecOption returns the exec.Option that selects the provider's
	// executor as currently configured.
	ExecOption() exec.Option
	// DefaultParallelism returns the default number of participants
	// for this provider.
	DefaultParallelism() int
}

// RegisterSystemProvider registers a system provider under the
// given name.
func RegisterSystemProvider(name string, provider Provider) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("system %s is already registered", name)
	}
	providers[name] = provider
}

// RegisterSystemProfile registers a named shorthand for a system and
// its options. For example, after
//	dotflags.RegisterSystemProfile("big", "ec2:instance=m5.24xlarge")
// the flag -system=big is equivalent to -system=ec2:instance=m5.24xlarge.
func RegisterSystemProfile(name, profile string) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("profile %s is already used as a provider name", name)
	}
	if _, present := profiles[name]; present {
		log.Panicf("profile %s is already registered", name)
	}
	profiles[name] = profile
}

// ProvidersAndProfiles returns the registered providers and profiles.
func ProvidersAndProfiles() ([]string, map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	prv := make([]string, 0, len(providers))
	for k := range providers {
		prv = append(prv, k)
	}
	prf := make(map[string]string, len(profiles))
	for k, v := range profiles {
		prf[k] = v
	}
	return prv, prf
}

// Internal provides participants as goroutines of the current
// process.
type Internal struct{}

// Name implements Provider.Name.
func (*Internal) Name() string { return "internal" }

// Set implements Provider.Set.
func (*Internal) Set(string) error {
	return fmt.Errorf("the internal system provider does not support any configuration")
}

// ExecOption implements Provider.ExecOption.
func (*Internal) ExecOption() exec.Option { return exec.Local }

// DefaultParallelism implements Provider.DefaultParallelism.
func (*Internal) DefaultParallelism() int { return runtime.GOMAXPROCS(0) }

// Local provides participants as separate processes on the local
// machine.
type Local struct{}

// Name implements Provider.Name.
func (*Local) Name() string { return "local" }

// Set implements Provider.Set.
func (*Local) Set(string) error {
	return fmt.Errorf("the local system provider does not support any configuration")
}

// ExecOption implements Provider.ExecOption.
func (*Local) ExecOption() exec.Option { return exec.Bigmachine(bigmachine.Local) }

// DefaultParallelism implements Provider.DefaultParallelism.
func (*Local) DefaultParallelism() int { return runtime.GOMAXPROCS(0) }

// EC2 provides participants on AWS EC2 instances, one per instance.
type EC2 struct {
	Options map[string]interface{}
}

// Name implements Provider.Name.
func (*EC2) Name() string { return "EC2" }

// Set implements Provider.Set.
func (ec2 *EC2) Set(v string) error {
	if ec2.Options == nil {
		ec2.Options = make(map[string]interface{}, 5)
	}
	parts := strings.Split(v, "=")
	if len(parts) != 2 {
		return fmt.Errorf("not in key=val format %q", v)
	}
	key, val := parts[0], parts[1]
	switch key {
	case "dataspace", "rootsize":
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("not an int: %v", val)
		}
		ec2.Options[key] = uint(i)
	case "instance", "profile":
		ec2.Options[key] = val
	case "ondemand":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("not a bool: %v", val)
		}
		ec2.Options[key] = b
	default:
		return fmt.Errorf("unsupported option: %v", key)
	}
	return nil
}

// DefaultParallelism implements Provider.DefaultParallelism. Each
// participant is single-threaded, so the default matches the local
// core count.
func (*EC2) DefaultParallelism() int { return runtime.GOMAXPROCS(0) }

// ExecOption implements Provider.ExecOption.
func (ec2 *EC2) ExecOption() exec.Option {
	system := &ec2system.System{Username: "unknown"}
	if u, err := user.Current(); err == nil {
		system.Username = u.Username
	} else {
		log.Printf("ec2: get current user: %v", err)
	}
	for key, val := range ec2.Options {
		switch key {
		case "instance":
			system.InstanceType = val.(string)
		case "dataspace":
			system.Dataspace = val.(uint)
		case "rootsize":
			system.Diskspace = val.(uint)
		case "profile":
			system.InstanceProfile = val.(string)
		case "ondemand":
			system.OnDemand = val.(bool)
		}
	}
	return exec.Bigmachine(system)
}

func init() {
	RegisterSystemProvider("local", &Local{})
	RegisterSystemProvider("internal", &Internal{})
	RegisterSystemProvider("ec2", &EC2{})
}

// SystemHelpShort is a short explanation of the allowed -system values.
func SystemHelpShort(prefix string) string {
	const format = `the system providing participants: {internal,local,ec2:[key=val,],profile}; use -%s for more information`
	return fmt.Sprintf(format, prefix+"system-help")
}

// SystemHelpLong explains the allowed -system values.
const SystemHelpLong = `A bigdot system is specified as follows:

<system-type>:<options> where options is [key=value,]+

The supported systems and their options are:

internal: participants are goroutines in this process, the default.
local: participants are separate processes on this machine.
ec2: participants run on AWS EC2 instances. The supported options are:
	instance=<AWS instance type> - the AWS instance type, e.g. m4.xlarge
	dataspace=<number> - size of the data volume in GiB
	rootsize=<number> - size of the root volume in GiB
	ondemand=<bool> - use on-demand rather than spot instances
	profile=<name> - the AWS instance profile to use

With local and ec2, this process is the coordinator (rank 0), and each
other participant runs on its own machine.

Applications may register profiles: named shorthands for any of the
above.
`

// SystemFlag is a flag.Value that selects a Provider.
type SystemFlag struct {
	Provider  Provider
	Options   []string
	Specified bool
}

// String implements flag.Value.String.
func (sys *SystemFlag) String() string {
	if sys.Provider == nil {
		return ""
	}
	if len(sys.Options) == 0 {
		return sys.Provider.Name()
	}
	return fmt.Sprintf("%v:%v", sys.Provider.Name(), strings.Join(sys.Options, ","))
}

// Set implements flag.Value.Set.
func (sys *SystemFlag) Set(v string) error {
	parse := func(s string) (name string, options []string) {
		parts := strings.SplitN(s, ":", 2)
		name = parts[0]
		if len(parts) > 1 {
			options = strings.Split(parts[1], ",")
		}
		return
	}
	name, options := parse(v)
	mu.Lock()
	if profile, ok := profiles[name]; ok {
		var profileOptions []string
		name, profileOptions = parse(profile)
		options = append(profileOptions, options...)
	}
	provider, ok := providers[name]
	mu.Unlock()
	if !ok {
		return fmt.Errorf("unsupported system or profile type: %v", name)
	}
	for _, opt := range options {
		if err := provider.Set(opt); err != nil {
			return err
		}
	}
	sys.Options = options
	sys.Provider = provider
	sys.Specified = true
	return nil
}

// Get implements flag.Getter.
func (sys *SystemFlag) Get() interface{} {
	return sys.String()
}

// Flags holds the values of the bigdot command line flags.
type Flags struct {
	System        SystemFlag
	SystemHelp    bool
	HTTPAddress   cmdutil.NetworkAddressFlag
	ConsoleStatus bool
	// Participants is the number of participants; 0 selects the
	// provider's default.
	Participants int
	N            int
	Seed         int64
	Repeat       int
	// Trace is the path to which a trace of the session's runs is
	// written on shutdown; empty disables tracing.
	Trace string
	fs    *flag.FlagSet
}

// Output returns the writer for help and usage messages.
func (bf *Flags) Output() io.Writer {
	if bf.fs == nil {
		return os.Stderr
	}
	if wr := bf.fs.Output(); wr != nil {
		return wr
	}
	return os.Stderr
}

// Defaults holds default flag values.
type Defaults struct {
	System        string
	HTTPAddress   string
	ConsoleStatus bool
	Participants  int
	N             int
	Seed          int64
	Repeat        int
	Trace         string
}

// RegisterFlags registers the bigdot command line flags with the
// supplied flag set, prefixing their names with prefix.
func RegisterFlags(fs *flag.FlagSet, bf *Flags, prefix string) {
	RegisterFlagsWithDefaults(fs, bf, prefix, Defaults{
		System:      "internal",
		HTTPAddress: ":3333",
		N:           bigdot.DefaultN,
		Seed:        bigdot.DefaultSeed,
		Repeat:      1,
	})
}

// RegisterFlagsWithDefaults registers the bigdot command line flags
// with the supplied flag set and defaults.
func RegisterFlagsWithDefaults(fs *flag.FlagSet, bf *Flags, prefix string, defaults Defaults) {
	fs.Var(&bf.System, prefix+"system", SystemHelpShort(prefix))
	bf.System.Set(defaults.System)
	bf.System.Specified = false
	fs.Var(&bf.HTTPAddress, prefix+"http", "address of http status server")
	bf.HTTPAddress.Set(defaults.HTTPAddress)
	bf.HTTPAddress.Specified = false
	fs.BoolVar(&bf.ConsoleStatus, prefix+"console-status", defaults.ConsoleStatus, "print status to stdout")
	fs.IntVar(&bf.Participants, prefix+"p", defaults.Participants, "number of participants, 0 requests an appropriate default for the system")
	fs.IntVar(&bf.N, prefix+"n", defaults.N, "vector length; must be divisible by the number of participants")
	fs.Int64Var(&bf.Seed, prefix+"seed", defaults.Seed, "seed for vector generation")
	fs.IntVar(&bf.Repeat, prefix+"repeat", defaults.Repeat, "number of times to run the computation")
	fs.StringVar(&bf.Trace, prefix+"trace", defaults.Trace, "path at which to write a Chrome trace of the runs")
	fs.BoolVar(&bf.SystemHelp, prefix+"system-help", false, "provide help on system providers and profiles")
	bf.fs = fs
}

// ExecOptions returns the exec.Options selected by the flags, along
// with the status object to which the session reports.
func (bf *Flags) ExecOptions() ([]exec.Option, *status.Status, error) {
	if bf.System.Provider == nil {
		return nil, nil, fmt.Errorf("no system specified")
	}
	if bf.Participants < 0 {
		return nil, nil, fmt.Errorf("invalid number of participants %d", bf.Participants)
	}
	var sessStatus status.Status
	// Ensure bigmachine's group is displayed first.
	_ = sessStatus.Group(exec.BigmachineStatusGroup)
	_ = sessStatus.Groups()

	options := []exec.Option{exec.Status(&sessStatus), bf.System.Provider.ExecOption()}
	if bf.Participants > 0 {
		options = append(options, exec.Parallelism(bf.Participants))
	} else {
		options = append(options, exec.Parallelism(bf.System.Provider.DefaultParallelism()))
	}
	if bf.Trace != "" {
		options = append(options, exec.TracePath(bf.Trace))
	}
	return options, &sessStatus, nil
}

// Config returns the run configuration selected by the flags.
func (bf *Flags) Config() bigdot.Config {
	return bigdot.Config{N: bf.N, Seed: bf.Seed}
}
