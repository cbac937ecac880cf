package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"go.modpipe.dev/modpipe/lib/fsext"
)

// GlobalFlags are the process-wide settings every subcommand reads,
// mirroring cmd/state.GlobalFlags (config file path, color, log
// output/format, verbosity).
type GlobalFlags struct {
	ConfigFilePath string
	NoColor        bool
	LogOutput      string
	LogFormat      string
	Verbose        bool
}

// GlobalState groups every process-external resource (filesystem,
// environment, standard streams, logger, signal hooks) behind one
// struct, exactly as cmd/state.GlobalState does, so the rest of this
// package never reaches for the os package directly and can be driven
// from tests with a fake filesystem and environment instead.
type GlobalState struct {
	Ctx context.Context

	FS      fsext.Fs
	Getwd   func() (string, error)
	CmdArgs []string
	Env     map[string]string

	DefaultFlags, Flags GlobalFlags

	OutMutex       *sync.Mutex
	Stdout, Stderr io.Writer

	SignalNotify func(chan<- os.Signal, ...os.Signal)
	SignalStop   func(chan<- os.Signal)

	Logger *logrus.Logger
}

// NewGlobalState builds a GlobalState backed by the real OS: the
// actual filesystem, os.Args, os.Environ, and stdout/stderr wrapped
// through go-colorable so ANSI codes survive on Windows consoles, the
// same construction cmd/state.NewGlobalState performs.
func NewGlobalState(ctx context.Context) *GlobalState {
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	stderrTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	outMutex := &sync.Mutex{}

	confDir, err := os.UserConfigDir()
	if err != nil {
		confDir = ".config"
	}

	env := BuildEnvMap(os.Environ())
	defaultFlags := GetDefaultFlags(confDir)
	flags := consolidateGlobalFlags(defaultFlags, env)

	logLevel := logrus.InfoLevel
	if flags.Verbose {
		logLevel = logrus.DebugLevel
	}

	logger := &logrus.Logger{
		Out: colorable.NewColorable(os.Stderr),
		Formatter: &logrus.TextFormatter{
			ForceColors:   stderrTTY,
			DisableColors: !stderrTTY || flags.NoColor,
		},
		Hooks: make(logrus.LevelHooks),
		Level: logLevel,
	}

	return &GlobalState{
		Ctx:          ctx,
		FS:           fsext.NewOsFs(),
		Getwd:        os.Getwd,
		CmdArgs:      append([]string{}, os.Args...),
		Env:          env,
		DefaultFlags: defaultFlags,
		Flags:        flags,
		OutMutex:     outMutex,
		Stdout:       colorable.NewColorable(os.Stdout),
		Stderr:       colorable.NewColorable(os.Stderr),
		SignalNotify: signal.Notify,
		SignalStop:   signal.Stop,
		Logger:       logger,
	}
}

// ParseEnvKeyValue splits a "KEY=VALUE" environment entry.
func ParseEnvKeyValue(kv string) (string, string) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:]
		}
	}
	return kv, ""
}

// BuildEnvMap turns os.Environ()'s "KEY=VALUE" slice into a map.
func BuildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v := ParseEnvKeyValue(kv)
		env[k] = v
	}
	return env
}

const defaultConfigFileName = "config.json"

// GetDefaultFlags returns the default global flags, rooted under
// homeDir the way cmd/state.GetDefaultFlags roots its config path
// under the OS config directory.
func GetDefaultFlags(homeDir string) GlobalFlags {
	return GlobalFlags{
		ConfigFilePath: filepath.Join(homeDir, "modpipe", defaultConfigFileName),
		LogOutput:      "stderr",
	}
}

func consolidateGlobalFlags(defaultFlags GlobalFlags, env map[string]string) GlobalFlags {
	result := defaultFlags

	if val, ok := env["MODPIPE_CONFIG"]; ok {
		result.ConfigFilePath = val
	}
	if val, ok := env["MODPIPE_LOG_OUTPUT"]; ok {
		result.LogOutput = val
	}
	if val, ok := env["MODPIPE_LOG_FORMAT"]; ok {
		result.LogFormat = val
	}
	if env["MODPIPE_NO_COLOR"] != "" {
		result.NoColor = true
	}
	if _, ok := env["NO_COLOR"]; ok {
		result.NoColor = true
	}
	if _, ok := env["MODPIPE_VERBOSE"]; ok {
		result.Verbose = true
	}
	return result
}
