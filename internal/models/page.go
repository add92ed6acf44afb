package models

// MaxPageSize is the largest page the backend serves; bigger limits are
// clamped to it.
const MaxPageSize = 1000

// MessagePage is one page of a conversation's history. Data is ordered
// oldest first and holds the most recent Limit messages before the page
// offset.
type MessagePage struct {
	Data  []Message `json:"data"`
	Total int       `json:"total"`
	Count int       `json:"count"`
	Limit int       `json:"limit"`
	Page  int       `json:"page"`
}
