package main

// shortID truncates an id to 8 characters for log readability.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
