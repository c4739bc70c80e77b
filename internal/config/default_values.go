package config

const (
	DefaultLibraryRoot = "~/ArchivistLibrary"
	DefaultLanguage    = "en"

	DefaultBaseURL    = "http://localhost:11434/v1"
	DefaultTimeoutMS  = 120000
	DefaultMaxRetries = 3

	DefaultEmbedModel = "mxbai-embed-large:latest"
	DefaultChatModel  = "llama3.1:8b"
	DefaultASRModel   = "whisper-1"

	DefaultFolderSuggestionThreshold = 0.78
	DefaultSearchThreshold           = 0.75
	DefaultSearchTopK                = 30

	DefaultChunkMaxWords       = 220
	DefaultChunkMinWords       = 40
	DefaultChunkOverlapSeconds = 3.0

	DefaultDiarizeMinSegmentSeconds = 0.5
	DefaultDiarizeThreshold         = 0.75

	DefaultLivePartialIntervalMS = 3000

	DefaultSummaryMaxChars  = 20000
	DefaultPromptTokenLimit = 6000

	DefaultWorkers                = 4
	DefaultReconcileMinIntervalMS = 2000
	DefaultLogLevel               = "info"

	// SettingsFilename is the live settings file under the library root.
	SettingsFilename = "settings.json"
)
