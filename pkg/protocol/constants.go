package protocol

// Directory and file name constants used throughout forgedash.
const (
	// HomeDir is the user-level state directory (e.g., ~/.forgedash).
	HomeDir = ".forgedash"

	// ConfigFile is the default config file name inside HomeDir.
	ConfigFile = "config.yaml"

	// LogFile receives log output while the terminal dashboard owns the screen.
	LogFile = "forgedash.log"

	// JobIDPrefix and WorkflowIDPrefix prefix locally minted IDs.
	JobIDPrefix      = "job_"
	WorkflowIDPrefix = "wf_"
)
