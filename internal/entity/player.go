package entity

type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Score  int    `json:"score,omitempty"`
	Online bool   `json:"online"`
}
