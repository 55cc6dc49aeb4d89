package model

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type GitHubCodeRequest struct {
	Code string `json:"code"`
}

type RoadmapRequest struct {
	Prompt string `json:"prompt"`
}
