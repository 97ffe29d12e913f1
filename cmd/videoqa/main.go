package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	opts := &Options{}
	opts.Answer.global = opts
	opts.Release.global = opts
	opts.Search.global = opts

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			parser.WriteHelp(os.Stdout)
			os.Exit(0)
		}
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
