package browser

import (
	"errors"
	"os"
	"os/exec"
)

// ErrExecutableNotFound is returned when no Chromium binary could be located.
var ErrExecutableNotFound = errors.New("browser executable not found")

// serverlessEnvVars mark managed runtimes that ship a bundled Chromium.
var serverlessEnvVars = []string{"AWS_LAMBDA_FUNCTION_NAME", "K_SERVICE", "FUNCTION_TARGET"}

var lookPathNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

var probePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"/opt/google/chrome/chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
}

// Env is the environment ResolveExecutable inspects. Zero-valued function
// fields default to the real process environment and filesystem.
type Env struct {
	Override             string
	ServerlessExecutable string
	ForceServerless      bool

	Getenv   func(string) string
	LookPath func(string) (string, error)
	Exists   func(string) bool
}

// Resolution is the chosen binary and the runtime it was chosen for.
type Resolution struct {
	Path       string
	Serverless bool
}

// ResolveExecutable picks the Chromium binary. A serverless runtime always
// uses the bundled path. Otherwise an explicit override wins, then PATH
// lookup, then a fixed list of install locations.
func ResolveExecutable(env Env) (Resolution, error) {
	env = env.withDefaults()
	if env.isServerless() {
		if env.ServerlessExecutable == "" {
			return Resolution{Serverless: true}, ErrExecutableNotFound
		}
		return Resolution{Path: env.ServerlessExecutable, Serverless: true}, nil
	}
	if env.Override != "" {
		return Resolution{Path: env.Override}, nil
	}
	for _, name := range lookPathNames {
		if p, err := env.LookPath(name); err == nil && p != "" {
			return Resolution{Path: p}, nil
		}
	}
	for _, p := range probePaths {
		if env.Exists(p) {
			return Resolution{Path: p}, nil
		}
	}
	return Resolution{}, ErrExecutableNotFound
}

func (e Env) isServerless() bool {
	if e.ForceServerless {
		return true
	}
	for _, key := range serverlessEnvVars {
		if e.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func (e Env) withDefaults() Env {
	if e.Getenv == nil {
		e.Getenv = os.Getenv
	}
	if e.LookPath == nil {
		e.LookPath = exec.LookPath
	}
	if e.Exists == nil {
		e.Exists = func(p string) bool {
			info, err := os.Stat(p)
			return err == nil && !info.IsDir()
		}
	}
	return e
}
