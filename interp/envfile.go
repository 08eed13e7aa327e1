// Copyright (c) 2026, the posh authors
// See LICENSE for licensing information

package interp

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	maybeio "github.com/google/renameio/v2/maybe"

	"github.com/posh-shell/posh/expand"
)

// EnvFileVar is the environment variable through which a child invoked by
// [SystemExecHandler] can find the side-channel file carrying the shell's
// exported variables, one KEY=VALUE per line.
const EnvFileVar = "POSH_ENV_FILE"

// WriteEnvFile writes the exported variables of env to path as KEY=VALUE
// lines, atomically where the filesystem allows it.
func WriteEnvFile(path string, env expand.Environ) error {
	lines := execEnv(env)
	sort.Strings(lines)
	var sb strings.Builder
	for _, kv := range lines {
		sb.WriteString(kv)
		sb.WriteByte('\n')
	}
	return maybeio.WriteFile(path, []byte(sb.String()), 0o600)
}

// SystemExecHandler returns an ExecHandlerFunc for platforms whose only
// process primitive is a system()-style command runner with no environment
// control: the command line is composed into a single string, the exported
// environment goes into a temporary side-channel file whose path the child
// can read from EnvFileVar, and the runner's status becomes the command's.
func SystemExecHandler(run func(cmdline string) int) ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		hc := HandlerCtx(ctx)
		path := filepath.Join(os.TempDir(), "posh-env-"+strconv.Itoa(os.Getpid()))
		if err := WriteEnvFile(path, hc.Env); err != nil {
			return err
		}
		defer os.Remove(path)
		os.Setenv(EnvFileVar, path)
		defer os.Unsetenv(EnvFileVar)
		var sb strings.Builder
		for i, arg := range args {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(systemQuote(arg))
		}
		if code := run(sb.String()); code != 0 {
			return NewExitStatus(uint8(code))
		}
		return nil
	}
}

// systemQuote quotes one argument for a system()-style command line.
func systemQuote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\n\"'\\$`&|;<>(){}*?[]#~") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
