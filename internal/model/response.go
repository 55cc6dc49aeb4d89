package model

// ErrorBody is the JSON shape of every error response. Error and Message
// carry the same text so clients reading either field see it.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type RoadmapResponse struct {
	Result string `json:"result"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Roadmap  string `json:"roadmap"`
	GitHub   string `json:"github"`
}
