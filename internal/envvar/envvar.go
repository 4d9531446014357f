package envvar

const (
	// SpeakdEnv is the environment variable used to determine the environment
	SpeakdEnv = "SPEAKD_ENV"

	// SpeakdPrefix prefixes every configuration override read from the environment.
	SpeakdPrefix = "SPEAKD_"

	// SpeakdConfigHome overrides the directory searched for the config file.
	SpeakdConfigHome = "SPEAKD_CONFIG_HOME"

	// HFHome redirects the Hugging Face hub cache.
	HFHome = "HF_HOME"

	// TransformersCache redirects the transformers weight cache.
	TransformersCache = "TRANSFORMERS_CACHE"

	// WindowsAppData is the roaming application data directory on Windows.
	WindowsAppData = "APPDATA"
)
