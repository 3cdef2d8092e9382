package cmd

import (
	"regexp"
	"testing"

	"github.com/emrgen/omnistore/internal/catalog"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/projector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exampleSelection = regexp.MustCompile(`-k (\w+)[^\n']*-s '([^']+)'`)

func TestExampleSelections(t *testing.T) {
	reg := catalog.MustNew(catalog.DefaultSettings())
	p := projector.New(reg, nil)

	examples := []string{rootCmd.Example}
	for _, c := range rootCmd.Commands() {
		examples = append(examples, c.Example)
	}

	found := 0
	for _, example := range examples {
		for _, m := range exampleSelection.FindAllStringSubmatch(example, -1) {
			found++
			d, err := reg.Resolve(kind.Kind(m[1]))
			require.NoError(t, err, m[0])
			sel, err := parseSelection(m[2])
			require.NoError(t, err, m[0])
			_, err = p.ToQuery(d, sel)
			assert.NoError(t, err, m[0])
		}
	}
	assert.Positive(t, found)
}
