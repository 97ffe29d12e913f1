package main

// Options is the root command that groups sub-commands. The struct tags are
// interpreted by github.com/jessevdk/go-flags.
type Options struct {
	Config string `short:"f" long:"config" description:"config YAML path"`

	Answer  AnswerCmd  `command:"answer" description:"Answer a question about a video"`
	Release ReleaseCmd `command:"release" description:"Delete every uploaded artifact"`
	Search  SearchCmd  `command:"search" description:"Search captions of stored runs"`
}

type AnswerCmd struct {
	Video     string   `short:"v" long:"video" required:"true" description:"video file"`
	Question  string   `short:"q" long:"question" required:"true" description:"question to answer"`
	Options   []string `short:"o" long:"option" description:"answer option, repeat for each option"`
	KeepCache bool     `long:"keep-cache" description:"keep the uploaded video after answering"`

	global *Options
}

type ReleaseCmd struct {
	global *Options
}

type SearchCmd struct {
	Query string `short:"q" long:"query" required:"true" description:"text to search for"`
	Limit int    `short:"n" long:"limit" default:"5" description:"maximum number of matches"`

	global *Options
}
