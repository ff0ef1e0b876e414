package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVersionCommand(t *testing.T) {
	for _, version := range []string{"0.1.0", "1.2.3", "dev"} {
		t.Run(version, func(t *testing.T) {
			cmd := NewVersionCommand(version)
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)

			require.NoError(t, cmd.Execute())
			assert.Contains(t, buf.String(), "leapgate v"+version)
			assert.Contains(t, buf.String(), "Data-quality gated promotion")
		})
	}
}
