package app

const (
	Name           = "spikehub"
	ConfigFilename = "config.json"
	LogFilename    = "spikehub.log"
)
