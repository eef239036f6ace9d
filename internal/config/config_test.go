package config

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestConfig(t *testing.T) {
	conf, err := Parse([]string{"testdata/config_test.toml"})
	assert.NilError(t, err)

	assert.Equal(t, conf.App.ChunkSize, 1316)
	assert.Equal(t, conf.App.MaxFrameSize, 1048576)
	assert.Equal(t, conf.SRT.Address, "127.0.0.1:7001")
	assert.Equal(t, conf.SRT.Latency, uint(250))
	assert.Equal(t, conf.SRT.LatencyDuration(), 250*time.Millisecond)
	assert.Equal(t, conf.Metrics.Enabled, false)
	assert.Equal(t, conf.Metrics.Address, ":1234")
	assert.Equal(t, conf.Metrics.TLS, true)
	assert.DeepEqual(t, conf.Metrics.TLSHosts, []string{"reframe.internal", "10.1.2.3"})
	assert.Equal(t, conf.Output.Dir, "/var/lib/reframe")
	assert.Equal(t, conf.Output.Format, "ts")
}

func TestConfigDefaults(t *testing.T) {
	conf, err := Parse([]string{"testdata/does-not-exist.toml"})
	assert.NilError(t, err)
	assert.DeepEqual(t, *conf, Default())
}

func TestConfigFirstExistingWins(t *testing.T) {
	conf, err := Parse([]string{
		"testdata/missing.toml",
		"testdata/partial.toml",
		"testdata/config_test.toml",
	})
	assert.NilError(t, err)
	assert.Equal(t, conf.SRT.Latency, uint(80))
	// Keys absent from the file keep their defaults.
	assert.Equal(t, conf.SRT.Address, Default().SRT.Address)
	assert.Equal(t, conf.App.ChunkSize, Default().App.ChunkSize)
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("SRT_ADDR", ":7777")
	t.Setenv("METRICS_ADDR", "")
	t.Setenv("OUTPUT_DIR", "/tmp/frames")

	conf, err := Parse([]string{"testdata/config_test.toml"})
	assert.NilError(t, err)
	assert.Equal(t, conf.SRT.Address, ":7777")
	assert.Equal(t, conf.Metrics.Address, ":1234")
	assert.Equal(t, conf.Output.Dir, "/tmp/frames")
}

func TestConfigErrors(t *testing.T) {
	_, err := Parse([]string{"testdata/invalid.toml"})
	assert.Assert(t, err != nil)

	_, err = Parse([]string{"testdata/bad_format.toml"})
	assert.Assert(t, is.ErrorContains(err, "output.format"))
}

func TestValidate(t *testing.T) {
	c := Default()
	c.App.ChunkSize = 0
	assert.ErrorContains(t, c.Validate(), "chunk_size")

	c = Default()
	c.App.MaxFrameSize = -1
	assert.ErrorContains(t, c.Validate(), "max_frame_size")
}
