package envvar

const (
	// ModelportEnv is the environment variable used to determine the environment
	ModelportEnv = "MODELPORT_ENV"

	// ModelportLogLevel is the environment variable used to determine the log level
	ModelportLogLevel = "MODELPORT_LOG_LEVEL"

	// ModelportModelsPath is the environment variable used to override the checkpoint cache directory
	ModelportModelsPath = "MODELPORT_MODELS_PATH"

	// ModelportHistoryPath is the environment variable used to override the export history database
	ModelportHistoryPath = "MODELPORT_HISTORY_PATH"

	// ModelportOrtLibrary is the environment variable pointing at the onnxruntime shared library
	ModelportOrtLibrary = "MODELPORT_ORT_LIBRARY"

	// ModelportYoloBin is the environment variable used to override the exporter binary
	ModelportYoloBin = "MODELPORT_YOLO_BIN"
)
