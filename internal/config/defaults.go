package config

const (
	defaultConfigPath            = "~/.config/reimagine/config.toml"
	defaultStateDir              = "~/.local/share/reimagine"
	defaultAPIBind               = "127.0.0.1:7489"
	defaultBaseURL               = "https://openrouter.ai/api/v1/chat/completions"
	defaultAnalysisModel         = "google/gemini-2.5-flash"
	defaultGenerationModel       = "google/gemini-2.5-flash-image-preview"
	defaultAnalysisInstruction   = "Describe this image in rich visual detail: subject, composition, lighting, color palette, and artistic style. Reply with the description only."
	defaultGenerationInstruction = "Create a new image from the description below. Keep the subject and composition, and render it as a loose watercolor painting."
	defaultAspectRatio           = "1:1"
	defaultTitle                 = "Reimagine"
	defaultRequestsPerMinute     = 20
	defaultPacingDelayMS         = 2000
	defaultStageTimeoutSeconds   = 120
	defaultLogCapacity           = 1000
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 14
	defaultNotifyTimeoutSeconds  = 10
	envAnalysisAPIKey            = "REIMAGINE_ANALYSIS_API_KEY"
	envGenerationAPIKey          = "REIMAGINE_GENERATION_API_KEY"
	envSharedAPIKey              = "OPENROUTER_API_KEY"
	minStageTimeoutSeconds       = 60
	maxPacingDelayMS             = 10 * 60 * 1000
	maxRequestsPerMinute         = 600
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			APIBind:  defaultAPIBind,
		},
		Analysis: Stage{
			BaseURL:           defaultBaseURL,
			Model:             defaultAnalysisModel,
			Instruction:       defaultAnalysisInstruction,
			Title:             defaultTitle,
			RequestsPerMinute: defaultRequestsPerMinute,
		},
		Generation: Stage{
			BaseURL:           defaultBaseURL,
			Model:             defaultGenerationModel,
			Instruction:       defaultGenerationInstruction,
			AspectRatio:       defaultAspectRatio,
			Title:             defaultTitle,
			RequestsPerMinute: defaultRequestsPerMinute,
		},
		Workflow: Workflow{
			PacingDelayMS:       defaultPacingDelayMS,
			StageTimeoutSeconds: defaultStageTimeoutSeconds,
			LogCapacity:         defaultLogCapacity,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
			ItemFailures:          true,
		},
	}
}
