package launcher

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kandev/acpadapter/internal/agenterr"
)

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// wrapWSL runs the command inside a WSL distribution through wsl.exe. Host
// paths are translated to their /mnt/<drive> form and the environment overlay
// is exported inside the shell, since WSL does not inherit it.
func (o Options) wrapWSL(plan *SpawnPlan, command string, spec CommandSpec) error {
	var args []string
	if o.WSLDistribution != "" {
		args = append(args, "-d", o.WSLDistribution)
	}
	if spec.Dir != "" {
		dir, err := ToWSLPath(spec.Dir)
		if err != nil {
			return err
		}
		args = append(args, "--cd", dir)
	}

	var script strings.Builder
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !envName.MatchString(k) {
			return agenterr.InvalidCommand(fmt.Sprintf("invalid environment variable name %q", k))
		}
		fmt.Fprintf(&script, "export %s=%s; ", k, quotePOSIX(spec.Env[k]))
	}

	additions := o.searchPathAdditions()
	if len(additions) > 0 {
		translated := make([]string, 0, len(additions))
		for _, dir := range additions {
			p, err := ToWSLPath(dir)
			if err != nil {
				return err
			}
			translated = append(translated, p)
		}
		fmt.Fprintf(&script, "export PATH=%s:\"$PATH\"; ", quotePOSIX(strings.Join(translated, ":")))
	}

	if spec.Script {
		script.WriteString(command)
	} else {
		target := command
		if looksLikeWindowsPath(command) {
			p, err := ToWSLPath(command)
			if err != nil {
				return err
			}
			target = p
		}
		script.WriteString("exec ")
		script.WriteString(quotePOSIXArgv(append([]string{target}, spec.Args...)))
	}

	args = append(args, "--exec", "sh", "-lc", script.String())
	plan.Program = "wsl.exe"
	plan.Args = args
	plan.Env = MergeEnv(o.baseEnv(), spec.Env, nil, o.goos())
	return nil
}

// ToWSLPath translates a Windows host path to its path inside WSL. POSIX
// paths pass through unchanged; UNC paths are rejected because the subsystem
// cannot address them.
func ToWSLPath(p string) (string, error) {
	if p == "" {
		return p, nil
	}
	if isUNCPath(p) {
		return "", agenterr.UnsupportedPath(p, "UNC network paths cannot be used from WSL")
	}
	if strings.HasPrefix(p, "/") {
		return p, nil
	}
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		rest := strings.ReplaceAll(p[2:], `\`, "/")
		rest = strings.TrimPrefix(rest, "/")
		drive := strings.ToLower(string(p[0]))
		if rest == "" {
			return "/mnt/" + drive, nil
		}
		return "/mnt/" + drive + "/" + rest, nil
	}
	// Relative paths keep their shape with forward slashes.
	return filepath.ToSlash(strings.ReplaceAll(p, `\`, "/")), nil
}

func isUNCPath(p string) bool {
	return strings.HasPrefix(p, `\\`) || strings.HasPrefix(p, "//")
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func looksLikeWindowsPath(p string) bool {
	return isUNCPath(p) || (len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]))
}
