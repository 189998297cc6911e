// Package flagx holds small helpers for the server's layered flag parsing:
// picking a subset of os.Args for a dedicated FlagSet, locating the JSON
// config file and splitting list-valued flags.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs keeps only the arguments that belong to names. Both "-n v" and
// "-n=v" forms are understood; a separate value is taken only when it does
// not itself start with '-'. Order is preserved and the result is never nil.
func FilterArgs(args []string, names []string) []string {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if want[name] {
				out = append(out, arg)
			}
			continue
		}

		if !want[arg] {
			continue
		}
		out = append(out, arg)
		if next := i + 1; next < len(args) && !strings.HasPrefix(args[next], "-") {
			out = append(out, args[next])
			i = next
		}
	}
	return out
}

// JsonConfigFlags returns the value of -c / -config from os.Args, or "".
// Everything else on the command line is ignored so the caller's own FlagSet
// can still reject unknown flags.
func JsonConfigFlags() string {
	var path string

	fs := flag.NewFlagSet("config-file", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to JSON config")
	fs.StringVar(&path, "c", "", "path to JSON config (shorthand)")
	_ = fs.Parse(FilterArgs(os.Args[1:], []string{"-c", "-config"}))

	return path
}

// SplitList splits a comma separated flag value, trimming blanks and
// dropping empty items. "a, b,,c" yields [a b c].
func SplitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
