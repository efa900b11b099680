package model

import "time"

// ResultMedia points at one uploaded artifact.
type ResultMedia struct {
	URL      string `json:"url"`
	Prompt   string `json:"prompt"`
	FileName string `json:"fileName"`
}

// ResultRecord backs the hosted result page. It is written once and never
// updated; Music and Image are nil when the pipeline failed.
type ResultRecord struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	BgColor   BackgroundColor `json:"bg_color,omitempty"`
	Message   string          `json:"message,omitempty"`
	Music     *ResultMedia    `json:"music,omitempty"`
	Image     *ResultMedia    `json:"image,omitempty"`
}
