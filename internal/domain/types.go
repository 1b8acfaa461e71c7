package domain

import "maps"

// Metadata is a free-form JSON object, such as an audit payload or an
// activity body.
type Metadata map[string]any

// Clone is a shallow copy that is never nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}
