package featureflag

type Flag string

const (
	// Deactivates a probe while it grabs an entity.
	FlagDeactivateProbeOnGrab Flag = "DEACTIVATE_PROBE_ON_GRAB"

	// Tests probes against entity shapes with a fan of rays instead of a cone
	// against the entity bounds.
	FlagProbeRayTest Flag = "PROBE_RAY_TEST"

	// Resolves probes every frame, even when their pointer did not move.
	FlagResolveStaticProbes Flag = "RESOLVE_STATIC_PROBES"

	// Skips indexing the scene entities at startup.
	FlagDisableBootstrap Flag = "DISABLE_BOOTSTRAP"
)

// Flags lists the known flags.
var Flags = []Flag{
	FlagDeactivateProbeOnGrab,
	FlagProbeRayTest,
	FlagResolveStaticProbes,
	FlagDisableBootstrap,
}
