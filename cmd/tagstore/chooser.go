package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"

	"github.com/nainya/tagstore/internal/logger"
	"github.com/nainya/tagstore/pkg/resolve"
)

// promptChooser asks on the terminal. Without a terminal it behaves like
// resolve.FailOnAmbiguity.
type promptChooser struct {
	in, out *os.File
	log     *logger.Logger
}

func newPromptChooser(in, out *os.File, log *logger.Logger) resolve.Chooser {
	return &promptChooser{in: in, out: out, log: log}
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (p *promptChooser) ChooseOne(candidates []string, prompt string) (int, error) {
	if !isTerminal(p.in) || !isTerminal(p.out) {
		p.log.Warn("no terminal for an interactive choice").Str("prompt", prompt).Send()
		return resolve.FailOnAmbiguity.ChooseOne(candidates, prompt)
	}

	options := make([]string, len(candidates))
	index := make(map[string]int, len(candidates))
	for i, c := range candidates {
		options[i] = fmt.Sprintf("%d) %s", i+1, c)
		index[options[i]] = i
	}
	choice, err := pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultText(prompt).
		Show()
	if err != nil {
		return 0, err
	}
	return index[choice], nil
}
