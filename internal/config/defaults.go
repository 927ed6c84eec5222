package config

const (
	defaultConfigPath           = "~/.config/drivewatch/config.toml"
	defaultStateDir             = "~/.local/share/drivewatch"
	defaultLogDir               = "~/.local/share/drivewatch/logs"
	defaultCropsDir             = "~/.local/share/drivewatch/crops"
	defaultRTSPTransport        = "tcp"
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultRetryDelayMS         = 1000
	defaultMaxRetryDelaySeconds = 30
	defaultReadTimeoutMS        = 1000
	defaultStopGraceSeconds     = 2
	defaultCarClassID           = 2
	defaultFramesBeforePurge    = 20
	defaultMinClassPercentage   = 50.0
	defaultLinePercent          = 0.75
	defaultDetectorURL          = "http://127.0.0.1:8000/track"
	defaultDetectorTimeout      = 5
	defaultDetectorJPEGQuality  = 80
	defaultOCRModel             = "llama3.2-vision"
	defaultOCRTimeoutSeconds    = 60
	defaultOCRMinCropWidth      = 320
	defaultMQTTPort             = 1883
	defaultMQTTDiscoveryPrefix  = "homeassistant"
	defaultMQTTDeviceID         = "driveway_alpr"
	defaultMQTTDeviceName       = "Driveway ALPR"
	defaultMQTTQoS              = 1
	defaultNotifyRequestTimeout = 10
	defaultIdleSleepMS          = 10
	defaultMaxConsecutiveErrors = 30
	defaultEvictionQueueSize    = 16
	defaultEvictionWorkers      = 1
	defaultFPSWindow            = 90
	defaultStatsIntervalSeconds = 60
	defaultAPIBind              = "127.0.0.1:7480"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 14
	defaultJournalFileName      = "events.db"
	DefaultPlatePrompt          = "This is a license plate image. Please read the license plate number/text. Return ONLY the alphanumeric characters you see on the plate, with no spaces, punctuation, or explanation. Just the plate number."
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			CropsDir: defaultCropsDir,
		},
		Streams: Streams{
			RTSPTransport:        defaultRTSPTransport,
			FFmpegBinary:         defaultFFmpegBinary,
			FFprobeBinary:        defaultFFprobeBinary,
			RetryDelayMS:         defaultRetryDelayMS,
			MaxRetryDelaySeconds: defaultMaxRetryDelaySeconds,
			ReadTimeoutMS:        defaultReadTimeoutMS,
			StopGraceSeconds:     defaultStopGraceSeconds,
		},
		Tracking: Tracking{
			TargetClasses:      []int{defaultCarClassID},
			FramesBeforePurge:  defaultFramesBeforePurge,
			MinClassPercentage: defaultMinClassPercentage,
		},
		Crossing: Crossing{
			LinePercent: defaultLinePercent,
		},
		Detector: Detector{
			URL:            defaultDetectorURL,
			TimeoutSeconds: defaultDetectorTimeout,
			JPEGQuality:    defaultDetectorJPEGQuality,
		},
		OCR: OCR{
			Enabled:        true,
			Model:          defaultOCRModel,
			TimeoutSeconds: defaultOCRTimeoutSeconds,
			Prompt:         DefaultPlatePrompt,
			MinCropWidth:   defaultOCRMinCropWidth,
		},
		MQTT: MQTT{
			Enabled:         true,
			Port:            defaultMQTTPort,
			DiscoveryPrefix: defaultMQTTDiscoveryPrefix,
			DeviceID:        defaultMQTTDeviceID,
			DeviceName:      defaultMQTTDeviceName,
			QoS:             defaultMQTTQoS,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			PlateReads:     true,
			StreamHealth:   true,
			Errors:         true,
		},
		Pipeline: Pipeline{
			IdleSleepMS:          defaultIdleSleepMS,
			MaxConsecutiveErrors: defaultMaxConsecutiveErrors,
			EvictionQueueSize:    defaultEvictionQueueSize,
			EvictionWorkers:      defaultEvictionWorkers,
			FPSWindow:            defaultFPSWindow,
			StatsIntervalSeconds: defaultStatsIntervalSeconds,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
