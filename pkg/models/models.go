package models

import "strings"

// Field is a single column/value pair taken from a CSV record.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Row is one data record. Fields keep the header order of the source file.
type Row struct {
	Fields []Field `json:"fields"`
}

// Get returns the value stored under key.
func (r Row) Get(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Keys returns the column names present in the row.
func (r Row) Keys() []string {
	keys := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		keys[i] = f.Key
	}
	return keys
}

// String renders the row as "key: value" pairs joined by single spaces.
func (r Row) String() string {
	parts := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		parts[i] = f.Key + ": " + f.Value
	}
	return strings.Join(parts, " ")
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Document is a chunk returned by the index together with its similarity to the query.
type Document struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

type Answer struct {
	Text      string     `json:"text"`
	Documents []Document `json:"documents"`
}
