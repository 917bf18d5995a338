package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aukilabs/kenaz/featureflag"
	"github.com/aukilabs/kenaz/intersection"
	"github.com/aukilabs/kenaz/models"
	"github.com/stretchr/testify/require"
)

func validTestConfig() config {
	return config{
		PublicEndpoint: "http://localhost:4100",
		FrameDuration:  time.Millisecond * 15,
		Index: indexConfig{
			CellSize:         1,
			WorldExtent:      1000,
			OversizeFraction: 0.25,
		},
	}
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, validateConfig(validTestConfig()))

	tests := []struct {
		scenario string
		update   func(*config)
	}{
		{
			scenario: "invalid public endpoint",
			update:   func(c *config) { c.PublicEndpoint = "localhost" },
		},
		{
			scenario: "token and token file",
			update: func(c *config) {
				c.APIToken = "a"
				c.APITokenFile = "b"
			},
		},
		{
			scenario: "zero frame duration",
			update:   func(c *config) { c.FrameDuration = 0 },
		},
		{
			scenario: "negative cell size",
			update:   func(c *config) { c.Index.CellSize = -1 },
		},
		{
			scenario: "oversize fraction above one",
			update:   func(c *config) { c.Index.OversizeFraction = 2 },
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			conf := validTestConfig()
			test.update(&conf)
			require.Error(t, validateConfig(conf))
		})
	}
}

func TestLoadAPIToken(t *testing.T) {
	t.Run("from config", func(t *testing.T) {
		token, err := loadAPIToken(config{APIToken: " secret "})
		require.NoError(t, err)
		require.Equal(t, "secret", token)
	})

	t.Run("from file", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(filename, []byte("secret\n"), 0600))

		token, err := loadAPIToken(config{APITokenFile: filename})
		require.NoError(t, err)
		require.Equal(t, "secret", token)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadAPIToken(config{APITokenFile: filepath.Join(t.TempDir(), "missing")})
		require.Error(t, err)
	})
}

func TestEngineOptions(t *testing.T) {
	conf := validTestConfig()
	conf.Probe = probeConfig{Length: 3, Radius: 0.5, RayCount: 12}

	opts := engineOptions(conf, featureflag.New(nil))
	require.Equal(t, float32(1), opts.CellSize)
	require.Equal(t, float32(3), opts.ProbeLength)
	require.Equal(t, 12, opts.RayCount)
	require.Equal(t, intersection.TestBounds, opts.Policy)
	require.False(t, opts.DeactivateOnGrab)

	opts = engineOptions(conf, featureflag.New([]string{
		"probe_ray_test",
		"DEACTIVATE_PROBE_ON_GRAB",
		"RESOLVE_STATIC_PROBES",
		"DISABLE_BOOTSTRAP",
	}))
	require.Equal(t, intersection.TestRays, opts.Policy)
	require.True(t, opts.DeactivateOnGrab)
	require.True(t, opts.ResolveStatic)
	require.True(t, opts.DisableBootstrap)
}

func TestAddDemoEntities(t *testing.T) {
	scene := models.NewScene("demo")
	addDemoEntities(scene, 0, 1000)
	require.Zero(t, scene.EntityCount())

	addDemoEntities(scene, 20, 1000)
	require.Equal(t, 20, scene.EntityCount())

	for _, e := range scene.Entities() {
		require.True(t, e.Valid())

		c := e.Bounds().Center()
		for i := 0; i < 3; i++ {
			require.LessOrEqual(t, c[i], float32(100))
			require.GreaterOrEqual(t, c[i], float32(-100))
		}
	}
}
