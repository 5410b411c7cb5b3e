package classify

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LabelSet is the ordered list of class names; position i names model
// output i. It is immutable once loaded.
type LabelSet struct {
	names []string
}

// NewLabelSet builds a LabelSet from names.
func NewLabelSet(names ...string) LabelSet {
	cp := make([]string, len(names))
	copy(cp, names)
	return LabelSet{names: cp}
}

// LoadLabels reads a label file with one class name per line. Surrounding
// whitespace is trimmed and trailing blank lines are ignored; blank lines in
// the middle keep their position so indices stay aligned.
func LoadLabels(path string) (LabelSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return LabelSet{}, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	var names []string
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		names = append(names, strings.TrimSpace(scan.Text()))
	}
	if err := scan.Err(); err != nil {
		return LabelSet{}, fmt.Errorf("failed to read labels: %w", err)
	}

	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return LabelSet{}, errors.New("label file is empty")
	}
	return LabelSet{names: names}, nil
}

// Len returns the number of classes.
func (l LabelSet) Len() int { return len(l.names) }

// Label returns the name of class i, or "" when i is out of range.
func (l LabelSet) Label(i int) string {
	if i < 0 || i >= len(l.names) {
		return ""
	}
	return l.names[i]
}

// Names returns a copy of the class names.
func (l LabelSet) Names() []string {
	cp := make([]string, len(l.names))
	copy(cp, l.names)
	return cp
}
