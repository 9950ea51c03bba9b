package main

import (
	"strings"

	"github.com/urfave/cli/v2"
)

// execute runs app after moving flags written after the positional
// arguments ahead of them, so "swap posts --dry-run" parses like
// "--dry-run swap posts".
func execute(app *cli.App, args []string) error {
	return app.Run(reorderArgs(app, args))
}

// reorderArgs rewrites "prog [global flags] cmd [mixed flags and args]" to
// "prog [global flags] cmd [command flags] [args]". Global flags found
// after the command move before it. Everything after "--" stays
// positional. Unknown flags stay with the command so it reports them.
func reorderArgs(app *cli.App, args []string) []string {
	if len(args) < 2 {
		return args
	}

	globals := []string{args[0]}
	i := 1
	for i < len(args) && isFlag(args[i]) {
		n := flagSpan(app.Flags, args, i)
		globals = append(globals, args[i:i+n]...)
		i += n
	}
	if i >= len(args) {
		return args
	}
	cmd := app.Command(args[i])
	if cmd == nil {
		return args
	}
	name := args[i]
	i++

	var local, positional []string
	terminated := false
	for i < len(args) {
		arg := args[i]
		switch {
		case arg == "--":
			terminated = true
			positional = append(positional, args[i+1:]...)
			i = len(args)
		case isFlag(arg):
			if lookupFlag(cmd.Flags, arg) == nil && lookupFlag(app.Flags, arg) != nil {
				n := flagSpan(app.Flags, args, i)
				globals = append(globals, args[i:i+n]...)
				i += n
				continue
			}
			n := flagSpan(cmd.Flags, args, i)
			local = append(local, args[i:i+n]...)
			i += n
		default:
			positional = append(positional, arg)
			i++
		}
	}

	out := append(globals, name)
	out = append(out, local...)
	if terminated {
		out = append(out, "--")
	}
	return append(out, positional...)
}

func isFlag(arg string) bool {
	return len(arg) > 1 && arg[0] == '-' && arg != "--"
}

func flagName(arg string) (name string, inline bool) {
	name = strings.TrimLeft(arg, "-")
	name, _, inline = strings.Cut(name, "=")
	return name, inline
}

func lookupFlag(flags []cli.Flag, arg string) cli.Flag {
	name, _ := flagName(arg)
	for _, f := range flags {
		for _, n := range f.Names() {
			if n == name {
				return f
			}
		}
	}
	return nil
}

// flagSpan is the number of tokens the flag at args[i] occupies: two when
// it takes a separate value, one otherwise.
func flagSpan(flags []cli.Flag, args []string, i int) int {
	if _, inline := flagName(args[i]); inline {
		return 1
	}
	f, ok := lookupFlag(flags, args[i]).(cli.DocGenerationFlag)
	if !ok || !f.TakesValue() || i+1 >= len(args) {
		return 1
	}
	return 2
}
