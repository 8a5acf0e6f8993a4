package rules

// Resolve looks up field as a direct key in the entity data map. Field names
// are flat ("status", "priority", "assigned_to"); there is no nested-path
// traversal. The boolean reports presence so callers can tell a missing key
// apart from a stored nil or empty value.
func Resolve(data map[string]interface{}, field string) (interface{}, bool) {
	if data == nil {
		return nil, false
	}
	v, ok := data[field]
	return v, ok
}
