package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type Config struct {
	LogLevel string

	FFmpeg  string
	FFprobe string

	DetectTimeout time.Duration
	ProbeTimeout  time.Duration

	// supervisor heuristics
	RampInterval time.Duration
	RampStep     int
	RampCeiling  int
	PollInterval time.Duration
	StablePolls  int
	KillGrace    time.Duration

	TempFolderPath   string
	NcmAllowFallback bool

	RabbitMqHost     string
	RabbitMqPort     string
	RabbitMqUser     string
	RabbitMqPassword string
	ListenQueue      string
	WriteQueue       string
	TranscodeWorkers int
	UploadWorkers    int

	MetricsAddr string

	Stages struct {
		Preparation string
		Transcode   string
		Upload      string
	}
	Status struct {
		Pending string
		Success string
		Fail    string
	}
}

func Load() Config {
	err := godotenv.Load(".env")
	if err != nil {
		log.Println("Could not load the .env file")
	}

	c := Config{}
	c.LogLevel = cast.ToString(getOrReturnDefault("LOG_LEVEL", "debug"))

	c.FFmpeg = cast.ToString(getOrReturnDefault("FFMPEG", "ffmpeg"))
	c.FFprobe = cast.ToString(getOrReturnDefault("FFPROBE", "ffprobe"))

	c.DetectTimeout = cast.ToDuration(getOrReturnDefault("DETECT_TIMEOUT", "10s"))
	c.ProbeTimeout = cast.ToDuration(getOrReturnDefault("PROBE_TIMEOUT", "30s"))

	c.RampInterval = cast.ToDuration(getOrReturnDefault("RAMP_INTERVAL", "500ms"))
	c.RampStep = cast.ToInt(getOrReturnDefault("RAMP_STEP", 5))
	c.RampCeiling = cast.ToInt(getOrReturnDefault("RAMP_CEILING", 90))
	c.PollInterval = cast.ToDuration(getOrReturnDefault("POLL_INTERVAL", "1s"))
	c.StablePolls = cast.ToInt(getOrReturnDefault("STABLE_POLLS", 2))
	c.KillGrace = cast.ToDuration(getOrReturnDefault("KILL_GRACE", "5s"))

	c.TempFolderPath = cast.ToString(getOrReturnDefault("TEMP_FOLDER_PATH", os.TempDir()))
	c.NcmAllowFallback = cast.ToBool(getOrReturnDefault("NCM_ALLOW_FALLBACK", false))

	c.RabbitMqHost = cast.ToString(getOrReturnDefault("RABBITMQ_HOST", "localhost"))
	c.RabbitMqPort = cast.ToString(getOrReturnDefault("RABBITMQ_PORT", "5672"))
	c.RabbitMqUser = cast.ToString(getOrReturnDefault("RABBITMQ_USER", "user"))
	c.RabbitMqPassword = cast.ToString(getOrReturnDefault("RABBITMQ_PASSWORD", "secret"))

	c.ListenQueue = cast.ToString(getOrReturnDefault("LISTEN_QUEUE", "transcode_jobs"))
	c.WriteQueue = cast.ToString(getOrReturnDefault("WRITE_QUEUE", "transcode_job_status"))

	c.TranscodeWorkers = cast.ToInt(getOrReturnDefault("TRANSCODE_WORKERS", 1))
	c.UploadWorkers = cast.ToInt(getOrReturnDefault("UPLOAD_WORKERS", 1))

	c.MetricsAddr = cast.ToString(getOrReturnDefault("METRICS_ADDR", ""))

	c.Stages.Preparation = "preparation"
	c.Stages.Transcode = "transcode"
	c.Stages.Upload = "upload"

	c.Status.Pending = "pending"
	c.Status.Success = "success"
	c.Status.Fail = "fail"

	return c
}

func getOrReturnDefault(key string, defaultValue interface{}) interface{} {
	_, exists := os.LookupEnv(key)
	if exists {
		return os.Getenv(key)
	}

	return defaultValue
}
