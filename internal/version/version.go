package version

// Set at build time via -ldflags "-X hndld/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
