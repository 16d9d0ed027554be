package protocol

// ConfigPayload is the JSON body of the session-opening frame. Field
// names and nesting follow the engine's request schema.
type ConfigPayload struct {
	User    UserConfig    `json:"user"`
	Audio   AudioConfig   `json:"audio"`
	Request RequestConfig `json:"request"`
}

// UserConfig identifies the caller to the engine.
type UserConfig struct {
	UID string `json:"uid"`
}

// AudioConfig describes the PCM the session will stream.
type AudioConfig struct {
	Format   string `json:"format"`
	Rate     int    `json:"rate"`
	Bits     int    `json:"bits"`
	Channel  int    `json:"channel"`
	Language string `json:"language,omitempty"`
}

// RequestConfig selects engine behavior for the session.
type RequestConfig struct {
	ModelName          string `json:"model_name"`
	EnableITN          bool   `json:"enable_itn"`
	EnablePunc         bool   `json:"enable_punc"`
	ResultType         string `json:"result_type"`
	VadSegmentDuration int    `json:"vad_segment_duration"`
}
