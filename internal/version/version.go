package version

var (
	version   = "v1.4.2"
	commit    = "release"
	buildDate = "2026-08-23"
)

func Version() string   { return version }
func Commit() string    { return commit }
func BuildDate() string { return buildDate }
