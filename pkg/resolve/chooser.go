package resolve

import (
	"github.com/cockroachdb/errors"
)

// Chooser picks one of several candidate values. It is called synchronously
// and may block, for example on a terminal prompt.
type Chooser interface {
	ChooseOne(candidates []string, prompt string) (int, error)
}

// ChooserFunc adapts a function to a Chooser.
type ChooserFunc func(candidates []string, prompt string) (int, error)

// ChooseOne calls f.
func (f ChooserFunc) ChooseOne(candidates []string, prompt string) (int, error) {
	return f(candidates, prompt)
}

// FailOnAmbiguity refuses every choice. It is the default for headless use.
var FailOnAmbiguity Chooser = ChooserFunc(func(candidates []string, prompt string) (int, error) {
	return 0, errors.WithHint(
		errors.Wrapf(ErrAmbiguous, "%d candidates", len(candidates)),
		"pass a forced choice or configure a chooser")
})

// ChooseFirst always picks the first candidate.
var ChooseFirst Chooser = ChooserFunc(func([]string, string) (int, error) {
	return 0, nil
})

// ParsePolicy maps a configured policy name to a Chooser. The interactive
// "prompt" policy is not known here; callers supply it.
func ParsePolicy(name string, prompt Chooser) (Chooser, error) {
	switch name {
	case "", "fail":
		return FailOnAmbiguity, nil
	case "first":
		return ChooseFirst, nil
	case "prompt":
		if prompt == nil {
			return FailOnAmbiguity, nil
		}
		return prompt, nil
	default:
		return nil, errors.Newf("unknown ambiguity policy %q", name)
	}
}
