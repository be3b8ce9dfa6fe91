package main

import (
	"flag"

	"dirlister/internal/dircache"
)

type filterFlags struct {
	all      bool
	dirsOnly bool
	names    string
}

// addFilterFlags registers -a, -d and -filter. Dotfiles stay hidden unless -a
// is given.
func addFilterFlags(fs *flag.FlagSet) *filterFlags {
	flags := &filterFlags{}
	fs.BoolVar(&flags.all, "a", false, "Include hidden (dot) entries")
	fs.BoolVar(&flags.dirsOnly, "d", false, "Only show directories")
	fs.StringVar(&flags.names, "filter", "", "Space separated name patterns such as \"*.jpg *.png\"")
	return flags
}

func (flags *filterFlags) filter() (dircache.Filter, error) {
	patterns, err := dircache.ParseNameFilters(flags.names)
	if err != nil {
		return dircache.Filter{}, err
	}
	return dircache.Filter{
		ShowHidden:  flags.all,
		DirsOnly:    flags.dirsOnly,
		NameFilters: patterns,
	}, nil
}
