package models

import "gitlab.com/transcodeuz/media-engine/tools/transcoder"

// TranscodeMessage is one job consumed from the listen queue
type TranscodeMessage struct {
	Id string `json:"id"`
	// Mode is transcode, extract_audio, extract_video or ncm_to_mp3. Empty means transcode.
	Mode         string              `json:"mode"`
	InputURI     string              `json:"input_uri"`
	OutputKey    string              `json:"output_key"`
	Preset       string              `json:"preset"`
	VideoCodec   string              `json:"video_codec"`
	AudioCodec   string              `json:"audio_codec"`
	Resolution   string              `json:"resolution"`
	FrameRate    string              `json:"frame_rate"`
	SampleRate   string              `json:"sample_rate"`
	AudioBitrate string              `json:"audio_bitrate"`
	Channels     string              `json:"channels"`
	HWAccel      string              `json:"hwaccel"`
	Quality      string              `json:"quality"`
	Filters      FiltersMessage      `json:"filters"`
	ExtraArgs    []string            `json:"extra_args"`
	CustomArgs   string              `json:"custom_args"`
	Storage      *CloudStorageConfig `json:"storage,omitempty"`
}

type FiltersMessage struct {
	Crop        string `json:"crop"`
	CropEnabled bool   `json:"crop_enabled"`
	Scale       bool   `json:"scale"`
	Rotate      int    `json:"rotate"`
	Volume      string `json:"volume"`
}

// CloudStorageConfig is where the finished output is uploaded
type CloudStorageConfig struct {
	Type      string `json:"type"` // minio or s3
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	Secure    bool   `json:"secure"`
}

// JobStatusMessage is published to the write queue on every stage change
type JobStatusMessage struct {
	Id              string                  `json:"id"`
	Stage           string                  `json:"stage"`
	Status          string                  `json:"status"`
	State           string                  `json:"state"`
	Progress        int                     `json:"progress"`
	Message         string                  `json:"message"`
	Command         []string                `json:"command,omitempty"`
	ElapsedMs       int64                   `json:"elapsed_ms"`
	RemainingMs     int64                   `json:"remaining_ms"`
	UploadDuration  int                     `json:"upload_duration"` // milliseconds
	OutputKey       string                  `json:"output_key"`
	Probe           *transcoder.ProbeResult `json:"probe,omitempty"`
	FailDescription string                  `json:"fail_description"`
	ErrorCode       string                  `json:"error_code"`
}
