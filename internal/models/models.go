// Package models defines the persisted pipeline records and their status machines.
package models

// All returns every model in foreign-key order, for AutoMigrate in tests
func All() []interface{} {
	return []interface{}{
		&Project{},
		&SearchRequest{},
		&SearchResult{},
		&Content{},
		&Subtitle{},
		&Task{},
		&CopywritingSession{},
	}
}
